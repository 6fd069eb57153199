package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labwire/orderdesk"
	"github.com/labwire/orderdesk/internal/testutils"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/observability"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/tools"
)

// value sums every series of a metric family whose labels include want.
func value(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	hooks := observability.NewMetrics(reg).Hooks()
	ctx := context.Background()

	hooks.OnTurnEnd(ctx, &domain.TurnEvent{Outcome: "reply", Duration: 2 * time.Second})
	hooks.OnTurnEnd(ctx, &domain.TurnEvent{Outcome: "fallback"})
	hooks.OnLoopExhausted(ctx, &domain.TurnEvent{Iterations: 5})
	hooks.OnToolReturn(ctx, &domain.ToolEvent{ToolName: "validate_bridge", Output: &domain.ToolResult{Valid: true}})
	hooks.OnToolReturn(ctx, &domain.ToolEvent{ToolName: "validate_bridge"})
	hooks.OnNormalized(ctx, &domain.NormalizationEvent{Stage: "alias"})
	hooks.OnNormalized(ctx, &domain.NormalizationEvent{})

	assert.Equal(t, 1.0, value(t, reg, "orderdesk_turns_total", map[string]string{"outcome": "reply"}))
	assert.Equal(t, 2.0, value(t, reg, "orderdesk_turn_duration_seconds", nil))
	assert.Equal(t, 1.0, value(t, reg, "orderdesk_loop_exhausted_total", nil))
	assert.Equal(t, 1.0, value(t, reg, "orderdesk_tool_calls_total", map[string]string{"tool_name": "validate_bridge", "valid": "true"}))
	assert.Equal(t, 1.0, value(t, reg, "orderdesk_tool_calls_total", map[string]string{"valid": "false"}))
	assert.Equal(t, 1.0, value(t, reg, "orderdesk_normalizations_total", map[string]string{"stage": "unresolved"}))
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	m := observability.NewMetrics(nil)
	assert.NotPanics(t, func() {
		m.Hooks().OnTurnEnd(context.Background(), &domain.TurnEvent{Outcome: "reply"})
	})
}

func TestCombine(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnTurnEnd: func(context.Context, *domain.TurnEvent) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{
		OnTurnEnd:  func(context.Context, *domain.TurnEvent) { calls = append(calls, "b") },
		OnToolCall: func(context.Context, *domain.ToolEvent) { calls = append(calls, "tool") },
	}

	h := observability.Combine(a, domain.LifecycleHooks{}, b)
	h.OnTurnEnd(context.Background(), &domain.TurnEvent{})
	h.OnToolCall(context.Background(), &domain.ToolEvent{})
	assert.Equal(t, []string{"a", "b", "tool"}, calls)
	assert.Nil(t, h.OnNormalized)
}

type oneProduct struct{}

func (oneProduct) Search(context.Context, ports.CatalogQuery) ([]domain.Product, error) {
	return []domain.Product{{Code: "PFM-NP-01", Name: "Standard NP PFM Crown"}}, nil
}

func TestHooks_WiredIntoAssistant(t *testing.T) {
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := observability.Combine(observability.NewMetrics(reg).Hooks(), observability.LogHooks(logger))

	engine := testutils.NewFakeEngine(
		testutils.Call(tools.ToolRecordRestoration, map[string]any{"restoration_type": "crown", "tooth_positions": "36"}),
		testutils.Text("Which material?"),
	)
	a, err := orderdesk.New(engine, oneProduct{}, orderdesk.WithLifecycleHooks(hooks))
	require.NoError(t, err)
	defer a.Close()

	reply := a.RunTurn(context.Background(), "", "dr-lee", "crown on 36")
	assert.Equal(t, "Which material?", reply.Text)

	assert.Equal(t, 1.0, value(t, reg, "orderdesk_turns_total", map[string]string{"outcome": "reply"}))
	assert.Equal(t, 1.0, value(t, reg, "orderdesk_tool_calls_total", map[string]string{"tool_name": tools.ToolRecordRestoration, "valid": "true"}))
	assert.Contains(t, logs.String(), `"msg":"tool_return"`)
	assert.Contains(t, logs.String(), `"msg":"turn_end"`)
}
