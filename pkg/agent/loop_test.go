package agent_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labwire/orderdesk/internal/testutils"
	"github.com/labwire/orderdesk/pkg/adapters/memory"
	"github.com/labwire/orderdesk/pkg/agent"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/normalizer"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/labwire/orderdesk/pkg/session"
	"github.com/labwire/orderdesk/pkg/tools"
	"github.com/labwire/orderdesk/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCatalog struct{ products []domain.Product }

func (c staticCatalog) Search(context.Context, ports.CatalogQuery) ([]domain.Product, error) {
	return c.products, nil
}

type fixture struct {
	engine   *testutils.FakeEngine
	loop     *agent.Loop
	registry *session.Registry
	store    *memory.Store
	mirror   *session.Mirror
}

func newFixture(t *testing.T, opts ...agent.Option) *fixture {
	t.Helper()
	r := rules.Default()
	catalog := staticCatalog{products: []domain.Product{{Code: "PFM-NP-01", Name: "Standard NP PFM Crown"}}}
	dispatcher := tools.NewDispatcher(workflow.New(), r, normalizer.New(r), catalog)

	store := memory.NewStore()
	mirror := session.NewMirror(store, 128)
	t.Cleanup(func() { _ = mirror.Close() })
	registry := session.NewRegistry(session.WithMirror(mirror))

	engine := testutils.NewFakeEngine()
	return &fixture{
		engine:   engine,
		loop:     agent.New(engine, dispatcher, registry, opts...),
		registry: registry,
		store:    store,
		mirror:   mirror,
	}
}

func TestRunTurn_FullOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const sid = "sess-abc123"

	f.engine.Push(
		testutils.Call(tools.ToolRecordRestoration, map[string]any{"restoration_type": "crown", "tooth_positions": "36"}),
		testutils.Text("Which material would you like for the crown on 36?"),
	)
	reply := f.loop.RunTurn(ctx, sid, "dr-lee", "I need a crown on 36")
	assert.Equal(t, agent.OutcomeReply, reply.Outcome)
	assert.Equal(t, workflow.StepMaterialCategory, reply.Step)
	assert.Equal(t, 2, reply.Iterations)
	require.Len(t, reply.ToolCalls, 1)
	assert.True(t, reply.ToolCalls[0].Result.Valid)

	f.engine.Push(
		testutils.Call(tools.ToolValidateMaterial, map[string]any{"material_category": "PFM", "material_subtype": "NP"}),
		testutils.Call(tools.ToolSearchProducts, map[string]any{}),
		testutils.Text("I found Standard NP PFM Crown. Which shade?"),
	)
	reply = f.loop.RunTurn(ctx, sid, "dr-lee", "PFM, non-precious")
	assert.Equal(t, workflow.StepShade, reply.Step)
	assert.Equal(t, "PFM-NP-01", reply.Draft.ProductCode)

	f.engine.Push(
		testutils.Calls(
			domain.ToolCall{Name: tools.ToolRecordShade, Arguments: `{"shade":"A2"}`},
			domain.ToolCall{Name: tools.ToolStorePatientName, Arguments: `{"patient_name":"Chan Tai Man"}`},
		),
		testutils.Text("Here is the summary. Reply \"confirm\" to submit."),
	)
	reply = f.loop.RunTurn(ctx, sid, "dr-lee", "Shade A2, patient Chan Tai Man")
	assert.Equal(t, workflow.StepConfirm, reply.Step)
	assert.Len(t, reply.ToolCalls, 2)

	calls := f.engine.Calls()
	reply = f.loop.RunTurn(ctx, sid, "dr-lee", "確認")
	assert.Equal(t, calls, f.engine.Calls(), "confirmation must not call the engine")
	assert.Equal(t, agent.OutcomeConfirmed, reply.Outcome)
	assert.Equal(t, workflow.StepDone, reply.Step)
	require.NotEmpty(t, reply.OrderNumber)
	assert.True(t, strings.HasPrefix(reply.OrderNumber, "ORD-"))
	assert.True(t, strings.HasSuffix(reply.OrderNumber, "-123"))
	assert.Contains(t, reply.Text, reply.OrderNumber)
	assert.Contains(t, reply.Text, "pfm (non-precious)")

	// The session is closed for further turns.
	reply = f.loop.RunTurn(ctx, sid, "dr-lee", "one more crown please")
	assert.Equal(t, agent.OutcomeClosed, reply.Outcome)
	assert.Contains(t, reply.Text, "new session")
	assert.Equal(t, calls, f.engine.Calls())

	// Everything reached the durable store.
	require.NoError(t, f.mirror.Flush(ctx))
	order, err := f.store.LoadOrder(ctx, reply.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, "Chan Tai Man", order.PatientName)
	assert.Equal(t, "dr-lee", order.OwnerID)

	stored, err := f.store.LoadSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, stored.Status)
	assert.Equal(t, order.Number, stored.OrderNumber)

	conv, err := f.registry.Get(ctx, sid, "dr-lee")
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, msgs, len(conv.Messages))
	assert.Equal(t, len(conv.Messages), stored.MessageCount)
}

func TestRunTurn_RequestShape(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(
		testutils.Call(tools.ToolRecordRestoration, map[string]any{"restoration_type": "crown"}),
		testutils.Text("Which teeth?"),
	)
	f.loop.RunTurn(context.Background(), "s1", "u", "a crown")

	reqs := f.engine.Requests()
	require.Len(t, reqs, 2)

	first := reqs[0]
	assert.Equal(t, ports.ToolChoiceAuto, first.ToolChoice)
	assert.Contains(t, first.System, "Current step: restoration_type")
	names := make([]string, 0, len(first.Tools))
	for _, s := range first.Tools {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, tools.ToolRecordRestoration)
	assert.NotContains(t, names, tools.ToolConfirmOrder)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, domain.RoleUser, first.Messages[0].Role)

	// The second call sees the assistant tool call and its result.
	second := reqs[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, domain.RoleAssistant, second.Messages[1].Role)
	require.Len(t, second.Messages[1].ToolCalls, 1)
	assert.Equal(t, domain.RoleTool, second.Messages[2].Role)
	assert.Equal(t, second.Messages[1].ToolCalls[0].ID, second.Messages[2].ToolCallID)
	assert.Contains(t, second.Messages[2].Content, `"valid":true`)
	assert.Contains(t, second.System, "Current step: tooth_positions")
}

func TestRunTurn_LoopIsBounded(t *testing.T) {
	var exhausted atomic.Int32
	f := newFixture(t, agent.WithHooks(domain.LifecycleHooks{
		OnLoopExhausted: func(context.Context, *domain.TurnEvent) { exhausted.Add(1) },
	}))
	// The engine keeps asking for tools and never answers.
	f.engine.Push(testutils.Call(tools.ToolRecordRestoration, map[string]any{"restoration_type": "crown"}))

	reply := f.loop.RunTurn(context.Background(), "s1", "u", "crown")
	assert.Equal(t, agent.DefaultMaxIterations, f.engine.Calls())
	assert.Equal(t, agent.OutcomeFallback, reply.Outcome)
	assert.Equal(t, agent.DefaultMaxIterations, reply.Iterations)
	assert.Len(t, reply.ToolCalls, agent.DefaultMaxIterations)
	assert.EqualValues(t, 1, exhausted.Load())
	assert.NotEmpty(t, reply.Text)
}

func TestRunTurn_ConfiguredIterations(t *testing.T) {
	f := newFixture(t, agent.WithMaxIterations(2))
	f.engine.Push(testutils.Call(tools.ToolRecordRestoration, map[string]any{"restoration_type": "crown"}))

	reply := f.loop.RunTurn(context.Background(), "s1", "u", "crown")
	assert.Equal(t, 2, f.engine.Calls())
	assert.Equal(t, agent.OutcomeFallback, reply.Outcome)
}

func TestRunTurn_EngineFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome agent.Outcome
		text    string
	}{
		{"unavailable", domain.ErrEngineUnavailable, agent.OutcomeUnavailable, "temporarily unavailable"},
		{"content filter", fmt.Errorf("azure: %w", domain.ErrContentFiltered), agent.OutcomeFiltered, "sensitive content"},
		{"unknown", fmt.Errorf("boom"), agent.OutcomeUnavailable, "temporarily unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.Push(testutils.Fail(tt.err))

			reply := f.loop.RunTurn(context.Background(), "s1", "u", "a crown on 11")
			assert.Equal(t, tt.outcome, reply.Outcome)
			assert.Contains(t, reply.Text, tt.text)

			conv, err := f.registry.Get(context.Background(), "s1", "u")
			require.NoError(t, err)
			require.Len(t, conv.Messages, 2)
			assert.Equal(t, domain.RoleAssistant, conv.Messages[1].Role)
		})
	}
}

type slowEngine struct{}

func (slowEngine) Complete(ctx context.Context, _ ports.ChatRequest) (ports.ChatResponse, error) {
	<-ctx.Done()
	return ports.ChatResponse{}, ctx.Err()
}

func TestRunTurn_EngineTimeout(t *testing.T) {
	r := rules.Default()
	dispatcher := tools.NewDispatcher(workflow.New(), r, normalizer.New(r), staticCatalog{})
	loop := agent.New(slowEngine{}, dispatcher, session.NewRegistry(), agent.WithEngineTimeout(20*time.Millisecond))

	start := time.Now()
	reply := loop.RunTurn(context.Background(), "s1", "u", "hello")
	assert.Equal(t, agent.OutcomeUnavailable, reply.Outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunTurn_CallerCancellationDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(testutils.Text("Which restoration do you need?"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply := f.loop.RunTurn(ctx, "s1", "u", "hello")
	assert.Equal(t, agent.OutcomeReply, reply.Outcome)
	assert.Equal(t, "Which restoration do you need?", reply.Text)
}

func TestRunTurn_EarlyConfirmListsMissing(t *testing.T) {
	f := newFixture(t)

	reply := f.loop.RunTurn(context.Background(), "s1", "u", "confirm")
	assert.Equal(t, agent.OutcomeIncomplete, reply.Outcome)
	assert.Contains(t, reply.Text, "missing: restoration_type, tooth_positions")
	assert.Zero(t, f.engine.Calls())
}

func TestRunTurn_ConfirmThroughTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := prepareConfirmable(t, f, "s1")
	require.Equal(t, workflow.StepPatientName, workflow.New().Step(conv.Draft))

	f.engine.Push(testutils.Calls(
		domain.ToolCall{Name: tools.ToolStorePatientName, Arguments: `{"patient_name":"Wong Siu Ming"}`},
		domain.ToolCall{Name: tools.ToolConfirmOrder, Arguments: `{}`},
	))
	reply := f.loop.RunTurn(ctx, "s1", "u", "Patient Wong Siu Ming, confirm")
	assert.Equal(t, agent.OutcomeConfirmed, reply.Outcome)
	assert.NotEmpty(t, reply.OrderNumber)
	assert.Equal(t, 1, reply.Iterations)
}

// prepareConfirmable drives a session up to the patient-name step.
func prepareConfirmable(t *testing.T, f *fixture, sid string) *session.Conversation {
	t.Helper()
	f.engine.Push(
		testutils.Calls(
			domain.ToolCall{Name: tools.ToolRecordRestoration, Arguments: `{"restoration_type":"crown","tooth_positions":"36"}`},
			domain.ToolCall{Name: tools.ToolValidateMaterial, Arguments: `{"material_category":"pfm","material_subtype":"non-precious"}`},
			domain.ToolCall{Name: tools.ToolSearchProducts, Arguments: `{}`},
			domain.ToolCall{Name: tools.ToolRecordShade, Arguments: `{"shade":"A3"}`},
		),
		testutils.Text("What is the patient's name?"),
	)
	reply := f.loop.RunTurn(context.Background(), sid, "u", "crown 36 pfm NP, shade A3")
	require.Equal(t, workflow.StepPatientName, reply.Step, reply.Text)

	conv, err := f.registry.Get(context.Background(), sid, "u")
	require.NoError(t, err)
	return conv
}

func TestRunTurn_NotOwner(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(testutils.Text("hi"))
	f.loop.RunTurn(context.Background(), "s1", "dr-lee", "hello")

	reply := f.loop.RunTurn(context.Background(), "s1", "dr-chan", "hello")
	assert.Equal(t, agent.OutcomeRejected, reply.Outcome)
	assert.Contains(t, reply.Text, "another user")
}

func TestRunTurn_NewSessionID(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(testutils.Text("hi"))

	reply := f.loop.RunTurn(context.Background(), "", "u", "hello")
	assert.NotEmpty(t, reply.SessionID)
	_, err := f.registry.Get(context.Background(), reply.SessionID, "u")
	assert.NoError(t, err)
}

func TestRunTurn_EmptyAnswerFallsBack(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(testutils.Text("   "))

	reply := f.loop.RunTurn(context.Background(), "s1", "u", "hello")
	assert.Equal(t, agent.OutcomeFallback, reply.Outcome)
	assert.NotEmpty(t, reply.Text)
}

func TestRunTurn_TruncatesToolCalls(t *testing.T) {
	f := newFixture(t, agent.WithMaxToolCalls(1))
	f.engine.Push(
		testutils.Calls(
			domain.ToolCall{Name: tools.ToolRecordRestoration, Arguments: `{"restoration_type":"crown"}`},
			domain.ToolCall{Name: tools.ToolRecordRestoration, Arguments: `{"tooth_positions":"11"}`},
		),
		testutils.Text("ok"),
	)
	reply := f.loop.RunTurn(context.Background(), "s1", "u", "crown 11")
	assert.Len(t, reply.ToolCalls, 1)
}

func TestRunTurn_Hooks(t *testing.T) {
	var starts, ends atomic.Int32
	var lastOutcome atomic.Value
	f := newFixture(t, agent.WithHooks(domain.LifecycleHooks{
		OnTurnStart: func(context.Context, *domain.TurnEvent) { starts.Add(1) },
		OnTurnEnd: func(_ context.Context, e *domain.TurnEvent) {
			ends.Add(1)
			lastOutcome.Store(e.Outcome)
		},
	}))
	f.engine.Push(testutils.Text("hello"))
	f.loop.RunTurn(context.Background(), "s1", "u", "hi")

	assert.EqualValues(t, 1, starts.Load())
	assert.EqualValues(t, 1, ends.Load())
	assert.Equal(t, string(agent.OutcomeReply), lastOutcome.Load())
}

func TestSystemPrompt(t *testing.T) {
	m := workflow.New()
	d := domain.OrderDraft{RestorationType: "bridge", IsBridge: true, ToothPositions: []string{"14", "15", "16"}}
	specs := []domain.ToolSpec{{Name: "validate_bridge", Description: "Validate a bridge."}}

	p := agent.SystemPrompt(m, d, specs)
	assert.Contains(t, p, "dental order assistant")
	assert.Contains(t, p, "- validate_bridge: Validate a bridge.")
	assert.Contains(t, p, "Current step: bridge_validation")
	assert.Less(t, strings.Index(p, "restoration_type"), strings.Index(p, "patient_name"))

	p = agent.SystemPrompt(m, d, nil)
	assert.Contains(t, p, "No tools are available")
}
