package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle status of a conversation.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed" // An order was created
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further turns are accepted in this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Session is one conversation between a dental professional and the assistant.
type Session struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	MessageCount   int           `json:"message_count"`
	ToolCallCount  int           `json:"tool_call_count"`
	OrderNumber    string        `json:"order_number,omitempty"`
}

// NewSession creates an active session.
func NewSession(id, ownerID string, now time.Time) Session {
	return Session{
		ID:             id,
		OwnerID:        ownerID,
		Status:         SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Transition moves the session to the given status.
// Terminal states are final: once completed or cancelled, only deletion removes a session.
func (s *Session) Transition(to SessionStatus, now time.Time) error {
	if s.Status == to {
		return nil
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	if to.Terminal() {
		ended := now
		s.EndedAt = &ended
	}
	s.LastActivityAt = now
	return nil
}

// Duration returns how long the session has been (or was) open.
func (s Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return now.Sub(s.CreatedAt)
}
