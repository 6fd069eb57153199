package runner

import (
	"context"

	"github.com/labwire/orderdesk/pkg/agent"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (CLI/TUI) and JSON (Structured) modes.
type IOHandler interface {
	// Output presents one assistant reply.
	Output(ctx context.Context, reply agent.Reply) error

	// Input reads the next user message.
	Input(ctx context.Context) (string, error)

	// SystemOutput presents a meta-message (session changes, command help).
	// This is distinct from assistant replies.
	SystemOutput(ctx context.Context, msg string) error
}

// Conversation is the turn-level API the runner drives.
// *orderdesk.Assistant implements it.
type Conversation interface {
	RunTurn(ctx context.Context, sessionID, ownerID, message string) agent.Reply
	CancelSession(ctx context.Context, sessionID, ownerID string) error
}
