package runner

import (
	"context"
	"fmt"
	"strings"
)

// Interceptor sees a user line before it becomes a turn.
// It returns true when it consumed the line.
type Interceptor func(ctx context.Context, line string) (bool, error)

// MultiInterceptor chains interceptors; the first that consumes the line wins.
func MultiInterceptor(interceptors ...Interceptor) Interceptor {
	return func(ctx context.Context, line string) (bool, error) {
		for _, interceptor := range interceptors {
			handled, err := interceptor(ctx, line)
			if err != nil {
				return false, err
			}
			if handled {
				return true, nil
			}
		}
		return false, nil
	}
}

// PassThrough consumes nothing.
func PassThrough() Interceptor {
	return func(context.Context, string) (bool, error) {
		return false, nil
	}
}

const commandHelp = `Commands:
  /new      start a new order
  /session  show the current session id
  /cancel   cancel the current order
  /help     show this help
  exit      leave the chat`

// CommandMiddleware handles slash commands against the runner's session.
// Lines that do not start with "/" pass through.
func CommandMiddleware(r *Runner, conv Conversation) Interceptor {
	return func(ctx context.Context, line string) (bool, error) {
		if !strings.HasPrefix(line, "/") {
			return false, nil
		}
		cmd := strings.ToLower(strings.Fields(line)[0])

		switch cmd {
		case "/help":
			return true, r.Handler.SystemOutput(ctx, commandHelp)
		case "/session":
			id := r.SessionID
			if id == "" {
				id = "(none yet)"
			}
			return true, r.Handler.SystemOutput(ctx, "Session: "+id)
		case "/new":
			r.SessionID = ""
			return true, r.Handler.SystemOutput(ctx, "Started a new order.")
		case "/cancel":
			if r.SessionID == "" {
				return true, r.Handler.SystemOutput(ctx, "There is no order to cancel.")
			}
			ok, err := Confirm(ctx, r.Handler, "Cancel the current order?")
			if err != nil || !ok {
				return true, err
			}
			if err := conv.CancelSession(ctx, r.SessionID, r.OwnerID); err != nil {
				return true, r.Handler.SystemOutput(ctx, fmt.Sprintf("Could not cancel: %v", err))
			}
			r.Logger.Debug("runner.cancelled", "session_id", r.SessionID)
			r.SessionID = ""
			return true, r.Handler.SystemOutput(ctx, "Order cancelled.")
		default:
			return true, r.Handler.SystemOutput(ctx, fmt.Sprintf("Unknown command %s. Type /help.", cmd))
		}
	}
}

// Confirm asks a yes/no question through the handler.
func Confirm(ctx context.Context, h IOHandler, question string) (bool, error) {
	if err := h.SystemOutput(ctx, question+" (y/n)"); err != nil {
		return false, err
	}
	input, err := h.Input(ctx)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(strings.ToLower(input)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
