package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/labwire/orderdesk/pkg/domain"
)

// Store implements ports.TranscriptStore in memory.
// Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]domain.Session
	drafts     map[string]domain.OrderDraft
	messages   map[string][]domain.Message
	messageIDs map[string]struct{}
	orders     map[string]domain.Order
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		sessions:   make(map[string]domain.Session),
		drafts:     make(map[string]domain.OrderDraft),
		messages:   make(map[string][]domain.Message),
		messageIDs: make(map[string]struct{}),
		orders:     make(map[string]domain.Order),
	}
}

// UpsertSession creates or replaces the session record.
func (s *Store) UpsertSession(ctx context.Context, sess domain.Session) error {
	if sess.EndedAt != nil {
		ended := *sess.EndedAt
		sess.EndedAt = &ended
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// LoadSession retrieves a session.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	// Copy on read so callers can't mutate the stored record through the pointer
	if sess.EndedAt != nil {
		ended := *sess.EndedAt
		sess.EndedAt = &ended
	}
	return &sess, nil
}

// ListSessions returns the sessions of an owner, most recent activity first.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if ownerID == "" || sess.OwnerID == ownerID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// DeleteSession removes the session, its draft and its transcript.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[sessionID] {
		delete(s.messageIDs, m.ID)
	}
	delete(s.messages, sessionID)
	delete(s.drafts, sessionID)
	delete(s.sessions, sessionID)
	return nil
}

// SaveDraft replaces the draft of a session.
func (s *Store) SaveDraft(ctx context.Context, sessionID string, d domain.OrderDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[sessionID] = d.Clone()
	return nil
}

// LoadDraft retrieves the draft of a session.
func (s *Store) LoadDraft(ctx context.Context, sessionID string) (*domain.OrderDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	c := d.Clone()
	return &c, nil
}

// AppendMessage adds a message to the transcript. Appending an ID twice is a no-op.
func (s *Store) AppendMessage(ctx context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.messageIDs[m.ID]; dup {
		return nil
	}
	if m.ToolCalls != nil {
		m.ToolCalls = append([]domain.ToolCall(nil), m.ToolCalls...)
	}
	s.messageIDs[m.ID] = struct{}{}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	return nil
}

// ListMessages returns the transcript of a session in append order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message{}, s.messages[sessionID]...), nil
}

// UpsertOrder creates or replaces an order.
func (s *Store) UpsertOrder(ctx context.Context, o domain.Order) error {
	o.ToothPositions = append([]string(nil), o.ToothPositions...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.Number] = o
	return nil
}

// LoadOrder retrieves an order by number.
func (s *Store) LoadOrder(ctx context.Context, number string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[number]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o.ToothPositions = append([]string(nil), o.ToothPositions...)
	return &o, nil
}

// ListOrders returns the orders of an owner, most recent first.
func (s *Store) ListOrders(ctx context.Context, ownerID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if ownerID == "" || o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConfirmedAt.Equal(out[j].ConfirmedAt) {
			return out[i].ConfirmedAt.After(out[j].ConfirmedAt)
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}
