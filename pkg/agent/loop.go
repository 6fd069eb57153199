package agent

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/session"
	"github.com/labwire/orderdesk/pkg/tools"
	"github.com/labwire/orderdesk/pkg/workflow"
)

const (
	DefaultMaxIterations = 5
	DefaultEngineTimeout = 30 * time.Second
	DefaultMaxToolCalls  = 8 // Per engine response
)

// ToolInvocation is one executed tool call, reported back to the caller.
type ToolInvocation struct {
	ID        string            `json:"id"`
	Name      string            `json:"tool"`
	Arguments string            `json:"arguments"`
	Result    domain.ToolResult `json:"result"`
}

// Reply is the outcome of one user turn. It is always well formed.
type Reply struct {
	SessionID   string            `json:"session_id"`
	Text        string            `json:"reply"`
	ToolCalls   []ToolInvocation  `json:"tool_calls"`
	Step        workflow.Step     `json:"step"`
	Draft       domain.OrderDraft `json:"draft"`
	OrderNumber string            `json:"order_number,omitempty"`
	Outcome     Outcome           `json:"outcome"`
	Iterations  int               `json:"iterations"`
}

// Loop runs the bounded reason-act cycle for one user turn.
type Loop struct {
	engine     ports.ReasoningEngine
	dispatcher *tools.Dispatcher
	machine    *workflow.Machine
	registry   *session.Registry

	maxIterations int
	maxToolCalls  int
	engineTimeout time.Duration
	temperature   float32
	maxTokens     int

	logger *slog.Logger
	hooks  domain.LifecycleHooks
	now    func() time.Time
	newID  func() string
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithHooks sets observability callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(l *Loop) { l.hooks = h }
}

// WithMaxIterations caps engine round trips per turn.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithMaxToolCalls caps the tool calls executed from a single engine response.
func WithMaxToolCalls(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxToolCalls = n
		}
	}
}

// WithEngineTimeout bounds each engine call.
func WithEngineTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.engineTimeout = d
		}
	}
}

// WithSampling sets temperature and the completion token limit (0 = provider default).
func WithSampling(temperature float32, maxTokens int) Option {
	return func(l *Loop) {
		l.temperature = temperature
		l.maxTokens = maxTokens
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithIDGenerator overrides the message ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(l *Loop) { l.newID = gen }
}

// New creates a loop over the engine, the dispatcher and the conversation registry.
func New(engine ports.ReasoningEngine, dispatcher *tools.Dispatcher, registry *session.Registry, opts ...Option) *Loop {
	l := &Loop{
		engine:        engine,
		dispatcher:    dispatcher,
		machine:       dispatcher.Machine(),
		registry:      registry,
		maxIterations: DefaultMaxIterations,
		maxToolCalls:  DefaultMaxToolCalls,
		engineTimeout: DefaultEngineTimeout,
		temperature:   0.3,
		logger:        logging.NewNop(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the conversation registry.
func (l *Loop) Registry() *session.Registry {
	return l.registry
}

// RunTurn handles one user message. An empty sessionID starts a new session.
// It never fails: collaborator errors become apologetic replies. The turn is
// detached from ctx cancellation so a disconnecting caller does not abort
// tool calls halfway; the reply is simply not delivered.
func (l *Loop) RunTurn(ctx context.Context, sessionID, ownerID, message string) Reply {
	ctx = context.WithoutCancel(ctx)
	if sessionID == "" {
		sessionID = l.registry.NewID()
	}
	start := l.now()

	var reply Reply
	err := l.registry.Manager().WithLock(ctx, sessionID, func(ctx context.Context) error {
		conv, _, err := l.registry.Open(ctx, sessionID, ownerID)
		if err != nil {
			return err
		}
		reply = l.turn(ctx, conv, strings.TrimSpace(message))
		return nil
	})
	if err != nil {
		l.logger.Error("agent.session_error", "session_id", sessionID, "err", err)
		reply = Reply{SessionID: sessionID, Text: replyError, Outcome: OutcomeRejected}
		if errors.Is(err, domain.ErrNotOwner) {
			reply.Text = replyNotOwner
		}
	}

	l.emitTurn(ctx, l.hooks.OnTurnEnd, domain.EventTurnEnd, sessionID, reply, l.now().Sub(start))
	l.logger.Info("agent.turn_end",
		"session_id", sessionID,
		"outcome", reply.Outcome,
		"step", reply.Step,
		"iterations", reply.Iterations,
		"tool_calls", len(reply.ToolCalls),
		"elapsed_ms", l.now().Sub(start).Milliseconds(),
	)
	return reply
}

func (l *Loop) turn(ctx context.Context, conv *session.Conversation, message string) Reply {
	sid := conv.Session.ID
	reply := Reply{SessionID: sid, ToolCalls: []ToolInvocation{}}
	finish := func(text string, outcome Outcome) Reply {
		reply.Text = text
		reply.Outcome = outcome
		reply.Step = l.machine.Step(conv.Draft)
		reply.Draft = conv.Draft.Clone()
		if conv.Order != nil {
			reply.OrderNumber = conv.Order.Number
		}
		return reply
	}

	step := l.machine.Step(conv.Draft)
	l.emitTurn(ctx, l.hooks.OnTurnStart, domain.EventTurnStart, sid, Reply{Step: step}, 0)
	l.logger.Debug("agent.turn_start", "session_id", sid, "step", step, "history", len(conv.Messages))

	if conv.Session.Status.Terminal() {
		return finish(closedReply(conv.Session), OutcomeClosed)
	}
	if message == "" {
		return finish(replyEmpty, OutcomeRejected)
	}

	l.registry.Append(conv, l.message(sid, domain.RoleUser, message))

	// Deterministic confirmation: no engine round trip.
	switch {
	case step == workflow.StepConfirm && workflow.Affirmative(message):
		return l.finalize(conv, finish)
	case step != workflow.StepConfirm && bareConfirm(message):
		text := incompleteReply(conv.Draft)
		l.registry.Append(conv, l.message(sid, domain.RoleAssistant, text))
		return finish(text, OutcomeIncomplete)
	}

	turn := &tools.Turn{SessionID: sid, UserMessage: message, Draft: &conv.Draft}

	for iter := 0; iter < l.maxIterations; iter++ {
		reply.Iterations = iter + 1
		step = l.machine.Step(conv.Draft)
		specs := l.dispatcher.Specs(step)
		req := ports.ChatRequest{
			System:      SystemPrompt(l.machine, conv.Draft, specs),
			Messages:    slices.Clone(conv.Messages),
			Tools:       specs,
			ToolChoice:  ports.ToolChoiceAuto,
			Temperature: l.temperature,
			MaxTokens:   l.maxTokens,
		}
		if len(specs) == 0 {
			req.ToolChoice = ports.ToolChoiceNone
		}

		callStart := l.now()
		callCtx, cancel := context.WithTimeout(ctx, l.engineTimeout)
		resp, err := l.engine.Complete(callCtx, req)
		cancel()
		if err != nil {
			text, outcome := replyUnavailable, OutcomeUnavailable
			if errors.Is(err, domain.ErrContentFiltered) {
				text, outcome = replyFiltered, OutcomeFiltered
			}
			l.logger.Warn("agent.engine_error",
				"session_id", sid,
				"iteration", iter,
				"step", step,
				"err", err,
			)
			l.registry.Append(conv, l.message(sid, domain.RoleAssistant, text))
			return finish(text, outcome)
		}
		l.logger.Debug("agent.engine_response",
			"session_id", sid,
			"iteration", iter,
			"tool_call_count", len(resp.ToolCalls),
			"finish_reason", resp.FinishReason,
			"elapsed_ms", l.now().Sub(callStart).Milliseconds(),
		)

		if len(resp.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Content)
			outcome := OutcomeReply
			if text == "" {
				text, outcome = replyFallback, OutcomeFallback
			}
			l.registry.Append(conv, l.message(sid, domain.RoleAssistant, text))
			return finish(text, outcome)
		}

		calls := resp.ToolCalls
		if len(calls) > l.maxToolCalls {
			l.logger.Warn("agent.tool_calls_truncated", "session_id", sid, "requested", len(calls), "kept", l.maxToolCalls)
			calls = calls[:l.maxToolCalls]
		}
		calls = slices.Clone(calls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + l.newID()
			}
		}
		assistant := l.message(sid, domain.RoleAssistant, resp.Content)
		assistant.ToolCalls = calls
		l.registry.Append(conv, assistant)

		for _, call := range calls {
			toolStart := l.now()
			res := l.dispatcher.Execute(ctx, call.Name, call.Arguments, turn)
			out := l.message(sid, domain.RoleTool, res.JSON())
			out.ToolCallID = call.ID
			out.ToolName = call.Name
			l.registry.Append(conv, out)
			reply.ToolCalls = append(reply.ToolCalls, ToolInvocation{ID: call.ID, Name: call.Name, Arguments: call.Arguments, Result: res})

			l.logger.Info("agent.tool_complete",
				"session_id", sid,
				"tool", call.Name,
				"valid", res.Valid,
				"elapsed_ms", l.now().Sub(toolStart).Milliseconds(),
			)
		}
		l.registry.SaveDraft(conv)

		// confirm_order moved the draft to done.
		if l.machine.Step(conv.Draft) == workflow.StepDone {
			return l.finalize(conv, finish)
		}
	}

	l.logger.Warn("agent.loop_exhausted",
		"session_id", sid,
		"max_iterations", l.maxIterations,
		"tool_calls", len(reply.ToolCalls),
		"step", l.machine.Step(conv.Draft),
	)
	out := finish(replyFallback, OutcomeFallback)
	l.emitTurn(ctx, l.hooks.OnLoopExhausted, domain.EventLoopExhausted, sid, out, 0)
	l.registry.Append(conv, l.message(sid, domain.RoleAssistant, replyFallback))
	return out
}

// bareConfirm matches a message that is only a confirmation, such as
// "confirm" or "ok 確認". Longer messages go to the engine, which may record
// the rest of their content first.
func bareConfirm(msg string) bool {
	return workflow.ExplicitConfirm(msg) && len(strings.Fields(msg)) <= 3
}

// finalize freezes the draft into an order and closes the session.
func (l *Loop) finalize(conv *session.Conversation, finish func(string, Outcome) Reply) Reply {
	sid := conv.Session.ID
	draft := conv.Draft.Clone()
	draft.Confirmed = true
	order, err := domain.NewOrder(conv.Session, draft, l.now())
	if err != nil {
		// Cannot happen at the confirm step; the draft is complete there.
		l.logger.Error("agent.finalize_failed", "session_id", sid, "err", err)
		text := incompleteReply(conv.Draft)
		l.registry.Append(conv, l.message(sid, domain.RoleAssistant, text))
		return finish(text, OutcomeIncomplete)
	}
	if err := l.registry.Complete(conv, order); err != nil {
		l.logger.Error("agent.finalize_failed", "session_id", sid, "err", err)
		// confirm_order may have set the flag on the live draft.
		conv.Draft.Confirmed = false
		l.registry.SaveDraft(conv)
		return finish(replyError, OutcomeRejected)
	}

	text := confirmationReply(order)
	l.registry.Append(conv, l.message(sid, domain.RoleAssistant, text))
	l.logger.Info("agent.order_created", "session_id", sid, "order_number", order.Number)
	return finish(text, OutcomeConfirmed)
}

func (l *Loop) message(sessionID string, role domain.Role, content string) domain.Message {
	return domain.Message{
		ID:        l.newID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: l.now().UTC(),
	}
}

func (l *Loop) emitTurn(ctx context.Context, hook func(context.Context, *domain.TurnEvent), typ domain.EventType,
	sessionID string, r Reply, dur time.Duration) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.TurnEvent{
		EventBase: domain.EventBase{
			Timestamp: l.now(),
			Type:      typ,
			SessionID: sessionID,
		},
		Step:       string(r.Step),
		Iterations: r.Iterations,
		Outcome:    string(r.Outcome),
		Duration:   dur,
	})
}
