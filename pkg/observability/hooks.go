package observability

import (
	"context"
	"log/slog"

	"github.com/labwire/orderdesk/pkg/domain"
)

// LogHooks returns hooks that write one structured line per event.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnStart: func(ctx context.Context, e *domain.TurnEvent) {
			logger.DebugContext(ctx, "turn_start", "session_id", e.SessionID, "step", e.Step)
		},
		OnTurnEnd: func(ctx context.Context, e *domain.TurnEvent) {
			logger.InfoContext(ctx, "turn_end",
				"session_id", e.SessionID,
				"step", e.Step,
				"outcome", e.Outcome,
				"iterations", e.Iterations,
				"duration", e.Duration,
			)
		},
		OnToolCall: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_call", "session_id", e.SessionID, "tool_name", e.ToolName)
		},
		OnToolReturn: func(ctx context.Context, e *domain.ToolEvent) {
			valid := e.Output != nil && e.Output.Valid
			logger.InfoContext(ctx, "tool_return",
				"session_id", e.SessionID,
				"tool_name", e.ToolName,
				"valid", valid,
				"duration", e.Duration,
			)
		},
		OnLoopExhausted: func(ctx context.Context, e *domain.TurnEvent) {
			logger.WarnContext(ctx, "loop_exhausted", "session_id", e.SessionID, "iterations", e.Iterations)
		},
		OnNormalized: func(ctx context.Context, e *domain.NormalizationEvent) {
			logger.DebugContext(ctx, "normalized",
				"input", e.Input,
				"category", e.Category,
				"canonical", e.Canonical,
				"stage", e.Stage,
				"cached", e.Cached,
			)
		},
	}
}

// Combine returns hooks that call every non-nil hook of each set in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnTurnStart = chain(out.OnTurnStart, h.OnTurnStart)
		out.OnTurnEnd = chain(out.OnTurnEnd, h.OnTurnEnd)
		out.OnToolCall = chain(out.OnToolCall, h.OnToolCall)
		out.OnToolReturn = chain(out.OnToolReturn, h.OnToolReturn)
		out.OnLoopExhausted = chain(out.OnLoopExhausted, h.OnLoopExhausted)
		out.OnNormalized = chain(out.OnNormalized, h.OnNormalized)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
