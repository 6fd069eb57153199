package ports

import (
	"context"

	"github.com/labwire/orderdesk/pkg/domain"
)

// TranscriptStore defines the interface for durable conversation storage.
// Every write is idempotent so an asynchronous writer can retry safely.
type TranscriptStore interface {
	// UpsertSession creates or replaces the session record.
	UpsertSession(ctx context.Context, s domain.Session) error

	// LoadSession retrieves a session.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns the sessions of an owner, most recent activity first.
	// An empty ownerID lists every session.
	ListSessions(ctx context.Context, ownerID string) ([]domain.Session, error)

	// DeleteSession removes the session with its draft and transcript.
	// Orders created by the session are kept.
	DeleteSession(ctx context.Context, sessionID string) error

	// SaveDraft replaces the draft of a session.
	SaveDraft(ctx context.Context, sessionID string, d domain.OrderDraft) error

	// LoadDraft retrieves the draft of a session.
	// Returns domain.ErrSessionNotFound if no draft was saved.
	LoadDraft(ctx context.Context, sessionID string) (*domain.OrderDraft, error)

	// AppendMessage adds a message to the transcript. Appending an ID twice is a no-op.
	AppendMessage(ctx context.Context, m domain.Message) error

	// ListMessages returns the transcript of a session in append order.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// UpsertOrder creates or replaces an order.
	UpsertOrder(ctx context.Context, o domain.Order) error

	// LoadOrder retrieves an order by number.
	// Returns domain.ErrOrderNotFound if it does not exist.
	LoadOrder(ctx context.Context, number string) (*domain.Order, error)

	// ListOrders returns the orders of an owner, most recent first.
	// An empty ownerID lists every order.
	ListOrders(ctx context.Context, ownerID string) ([]domain.Order, error)
}
