package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/pkg/agent"
)

// Runner drives a chat session from an IOHandler: it reads a line, runs one
// turn and prints the reply until the input ends or the user quits.
type Runner struct {
	// Handler is the strategy for IO. Defaults to a TextHandler on Stdin/Stdout.
	Handler IOHandler

	// Interceptor sees every line before it becomes a turn. If nil,
	// CommandMiddleware is used.
	Interceptor Interceptor

	// Logger is used for internal debug logging.
	// If nil, a no-op logger is used.
	Logger *slog.Logger

	// SessionID is the session being continued. Empty starts a new one on
	// the first turn.
	SessionID string

	// OwnerID is sent with every turn.
	OwnerID string

	// Greeting is printed as a system message before the first prompt.
	Greeting string
}

// Option configures a Runner.
type Option func(*Runner)

// WithInputHandler sets the IO strategy.
func WithInputHandler(h IOHandler) Option {
	return func(r *Runner) {
		r.Handler = h
	}
}

// WithInterceptor sets the line interceptor.
func WithInterceptor(i Interceptor) Option {
	return func(r *Runner) {
		r.Interceptor = i
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithSessionID resumes an existing session.
func WithSessionID(id string) Option {
	return func(r *Runner) {
		r.SessionID = id
	}
}

// WithOwner sets the owner sent with every turn.
func WithOwner(owner string) Option {
	return func(r *Runner) {
		r.OwnerID = owner
	}
}

// WithGreeting sets the opening system message.
func WithGreeting(msg string) Option {
	return func(r *Runner) {
		r.Greeting = msg
	}
}

// NewRunner creates a Runner. Without WithInputHandler it reads Stdin and
// writes Stdout.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{Logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.Handler == nil {
		r.Handler = NewTextHandler(nil, nil)
	}
	if r.Logger == nil {
		r.Logger = logging.NewNop()
	}
	return r
}

// Run executes the chat loop until the input ends, the user types exit or
// quit, or ctx is cancelled. None of those is an error.
func (r *Runner) Run(ctx context.Context, conv Conversation) error {
	handler := r.Handler
	interceptor := r.Interceptor
	if interceptor == nil {
		interceptor = CommandMiddleware(r, conv)
	}

	if r.Greeting != "" {
		if err := handler.SystemOutput(ctx, r.Greeting); err != nil {
			return fmt.Errorf("output error: %w", err)
		}
	}

	for {
		line, err := handler.Input(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				r.Logger.Debug("runner.stopped", "session_id", r.SessionID, "err", err)
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isQuit(line) {
			return nil
		}

		handled, err := interceptor(ctx, line)
		if err != nil {
			return fmt.Errorf("interceptor error: %w", err)
		}
		if handled {
			continue
		}

		reply := conv.RunTurn(ctx, r.SessionID, r.OwnerID, line)
		r.Logger.Debug("runner.turn",
			"session_id", reply.SessionID,
			"outcome", reply.Outcome,
			"step", reply.Step,
			"iterations", reply.Iterations,
		)
		if reply.SessionID != "" {
			r.SessionID = reply.SessionID
		}

		if err := handler.Output(ctx, reply); err != nil {
			return fmt.Errorf("output error: %w", err)
		}

		switch reply.Outcome {
		case agent.OutcomeConfirmed:
			if err := handler.SystemOutput(ctx, fmt.Sprintf("Order %s submitted. The next message starts a new order.", reply.OrderNumber)); err != nil {
				return fmt.Errorf("output error: %w", err)
			}
			r.SessionID = ""
		case agent.OutcomeClosed, agent.OutcomeRejected:
			r.SessionID = ""
		}
	}
}

func isQuit(line string) bool {
	switch strings.ToLower(line) {
	case "exit", "quit", "/exit", "/quit":
		return true
	}
	return false
}
