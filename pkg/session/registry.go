package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
)

// Conversation is the working copy of one session: the record, the draft,
// the full transcript and, once finalized, the order.
// It must only be mutated while holding the session lock.
type Conversation struct {
	Session  domain.Session
	Draft    domain.OrderDraft
	Messages []domain.Message
	Order    *domain.Order

	lastSeen atomic.Int64 // unix nanos, read by Sweep without the session lock
	closed   atomic.Bool
}

// Snapshot returns a deep copy safe to hand outside the session lock.
func (c *Conversation) Snapshot() *Conversation {
	out := &Conversation{
		Session:  c.Session,
		Draft:    c.Draft.Clone(),
		Messages: append([]domain.Message(nil), c.Messages...),
	}
	if c.Order != nil {
		o := *c.Order
		out.Order = &o
	}
	out.lastSeen.Store(c.lastSeen.Load())
	out.closed.Store(c.closed.Load())
	return out
}

func (c *Conversation) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// Registry is the process-wide table of live conversations. Conversations
// are created on first use or hydrated from the durable store, and evicted
// by Sweep once idle or closed.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Conversation

	manager *Manager
	mirror  *Mirror
	store   ports.TranscriptStore
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithManager sets the lock manager. A private one is created otherwise.
func WithManager(m *Manager) RegistryOption {
	return func(r *Registry) { r.manager = m }
}

// WithMirror enables asynchronous durable writes. Unless WithStore is given,
// reads fall back to the mirror's store.
func WithMirror(m *Mirror) RegistryOption {
	return func(r *Registry) { r.mirror = m }
}

// WithStore sets the durable store used to hydrate and list sessions.
func WithStore(s ports.TranscriptStore) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the session ID generator.
func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		live:   make(map[string]*Conversation),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.manager == nil {
		r.manager = NewManager(WithLogger(r.logger))
	}
	if r.store == nil && r.mirror != nil {
		r.store = r.mirror.Store()
	}
	return r
}

// Manager returns the lock manager guarding conversations.
func (r *Registry) Manager() *Manager {
	return r.manager
}

// NewID returns a fresh session ID.
func (r *Registry) NewID() string {
	return r.newID()
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func checkOwner(s domain.Session, ownerID string) error {
	if ownerID != "" && s.OwnerID != "" && s.OwnerID != ownerID {
		return domain.ErrNotOwner
	}
	return nil
}

// Open returns the live conversation for sessionID, hydrating it from the
// durable store or creating it when unknown. The caller must hold the
// session lock. created reports whether a new session was started.
func (r *Registry) Open(ctx context.Context, sessionID, ownerID string) (conv *Conversation, created bool, err error) {
	if sessionID == "" {
		return nil, false, errors.New("session id is required")
	}
	now := r.now()

	r.mu.Lock()
	conv, ok := r.live[sessionID]
	r.mu.Unlock()
	if ok {
		if err := checkOwner(conv.Session, ownerID); err != nil {
			return nil, false, err
		}
		conv.touch(now)
		return conv, false, nil
	}

	conv, err = r.hydrate(ctx, sessionID)
	switch {
	case err == nil:
		if err := checkOwner(conv.Session, ownerID); err != nil {
			return nil, false, err
		}
	case errors.Is(err, domain.ErrSessionNotFound):
		conv = &Conversation{Session: domain.NewSession(sessionID, ownerID, now)}
		created = true
	default:
		return nil, false, err
	}
	conv.touch(now)
	if conv.Session.Status.Terminal() {
		conv.closed.Store(true)
	}

	r.mu.Lock()
	if existing, ok := r.live[sessionID]; ok {
		r.mu.Unlock()
		existing.touch(now)
		return existing, false, nil
	}
	r.live[sessionID] = conv
	r.mu.Unlock()

	if created {
		r.logger.Debug("session.created", "session_id", sessionID, "owner_id", ownerID)
		if r.mirror != nil {
			r.mirror.UpsertSession(conv.Session)
		}
	} else {
		r.logger.Debug("session.hydrated", "session_id", sessionID, "messages", len(conv.Messages))
	}
	return conv, created, nil
}

func (r *Registry) hydrate(ctx context.Context, sessionID string) (*Conversation, error) {
	if r.store == nil {
		return nil, domain.ErrSessionNotFound
	}
	s, err := r.store.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	conv := &Conversation{Session: *s}

	d, err := r.store.LoadDraft(ctx, sessionID)
	switch {
	case err == nil:
		conv.Draft = *d
	case !errors.Is(err, domain.ErrSessionNotFound):
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	msgs, err := r.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	conv.Messages = msgs

	if s.OrderNumber != "" {
		o, err := r.store.LoadOrder(ctx, s.OrderNumber)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
		conv.Order = o
	}
	return conv, nil
}

// Append adds messages to the transcript, updates the session counters and
// mirrors both.
func (r *Registry) Append(conv *Conversation, msgs ...domain.Message) {
	if len(msgs) == 0 {
		return
	}
	now := r.now()
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, m)
		conv.Session.MessageCount++
		conv.Session.ToolCallCount += len(m.ToolCalls)
		if r.mirror != nil {
			r.mirror.AppendMessage(m)
		}
	}
	conv.Session.LastActivityAt = now
	conv.touch(now)
	if r.mirror != nil {
		r.mirror.UpsertSession(conv.Session)
	}
}

// SaveDraft mirrors the current draft.
func (r *Registry) SaveDraft(conv *Conversation) {
	if r.mirror != nil {
		r.mirror.SaveDraft(conv.Session.ID, conv.Draft)
	}
}

// Complete moves the session to completed, marks the draft confirmed and
// attaches the order. Nothing changes when the transition is refused.
func (r *Registry) Complete(conv *Conversation, order domain.Order) error {
	if err := conv.Session.Transition(domain.SessionCompleted, r.now()); err != nil {
		return err
	}
	conv.Draft.Confirmed = true
	conv.Order = &order
	conv.Session.OrderNumber = order.Number
	conv.closed.Store(true)
	if r.mirror != nil {
		r.mirror.SaveDraft(conv.Session.ID, conv.Draft)
		r.mirror.UpsertOrder(order)
		r.mirror.UpsertSession(conv.Session)
	}
	r.logger.Info("session.completed", "session_id", conv.Session.ID, "order_number", order.Number)
	return nil
}

// Cancel moves an active session to cancelled.
func (r *Registry) Cancel(ctx context.Context, sessionID, ownerID string) error {
	return r.manager.WithLock(ctx, sessionID, func(ctx context.Context) error {
		conv, err := r.lookup(ctx, sessionID, ownerID)
		if err != nil {
			return err
		}
		if err := conv.Session.Transition(domain.SessionCancelled, r.now()); err != nil {
			return err
		}
		conv.closed.Store(true)
		if r.mirror != nil {
			r.mirror.UpsertSession(conv.Session)
		}
		return nil
	})
}

// lookup finds a conversation without creating it. The caller holds the lock.
func (r *Registry) lookup(ctx context.Context, sessionID, ownerID string) (*Conversation, error) {
	r.mu.Lock()
	conv, ok := r.live[sessionID]
	r.mu.Unlock()
	if !ok {
		var err error
		conv, err = r.hydrate(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}
	if err := checkOwner(conv.Session, ownerID); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get returns a snapshot of a conversation, live or stored.
func (r *Registry) Get(ctx context.Context, sessionID, ownerID string) (*Conversation, error) {
	var out *Conversation
	err := r.manager.WithLock(ctx, sessionID, func(ctx context.Context) error {
		conv, err := r.lookup(ctx, sessionID, ownerID)
		if err != nil {
			return err
		}
		out = conv.Snapshot()
		return nil
	})
	return out, err
}

// Transcript returns the messages of a session in order.
func (r *Registry) Transcript(ctx context.Context, sessionID, ownerID string) ([]domain.Message, error) {
	conv, err := r.Get(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// List returns the sessions of an owner (all sessions for an empty owner),
// live records taking precedence over stored ones, most recent first.
func (r *Registry) List(ctx context.Context, ownerID string) ([]domain.Session, error) {
	byID := make(map[string]domain.Session)
	if r.store != nil {
		stored, err := r.store.ListSessions(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, s := range stored {
			byID[s.ID] = s
		}
	}

	r.mu.Lock()
	live := make([]*Conversation, 0, len(r.live))
	for _, c := range r.live {
		live = append(live, c)
	}
	r.mu.Unlock()

	for _, c := range live {
		_ = r.manager.WithLock(ctx, c.Session.ID, func(context.Context) error {
			if ownerID == "" || c.Session.OwnerID == ownerID {
				byID[c.Session.ID] = c.Session
			}
			return nil
		})
	}

	out := make([]domain.Session, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Order returns an order by number, checking ownership.
func (r *Registry) Order(ctx context.Context, number, ownerID string) (*domain.Order, error) {
	r.mu.Lock()
	for _, c := range r.live {
		if c.closed.Load() {
			// Order is written once under the lock before closed is set.
			if o := c.Order; o != nil && o.Number == number {
				r.mu.Unlock()
				if ownerID != "" && o.OwnerID != ownerID {
					return nil, domain.ErrNotOwner
				}
				cp := *o
				return &cp, nil
			}
		}
	}
	r.mu.Unlock()

	if r.store == nil {
		return nil, domain.ErrOrderNotFound
	}
	o, err := r.store.LoadOrder(ctx, number)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && o.OwnerID != ownerID {
		return nil, domain.ErrNotOwner
	}
	return o, nil
}

// Orders returns the orders of an owner (every order for an empty owner),
// most recent first. Orders of live conversations are included even before
// the mirror has stored them.
func (r *Registry) Orders(ctx context.Context, ownerID string) ([]domain.Order, error) {
	byNumber := make(map[string]domain.Order)
	if r.store != nil {
		stored, err := r.store.ListOrders(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to list orders: %w", err)
		}
		for _, o := range stored {
			byNumber[o.Number] = o
		}
	}

	r.mu.Lock()
	for _, c := range r.live {
		if !c.closed.Load() {
			continue
		}
		if o := c.Order; o != nil && (ownerID == "" || o.OwnerID == ownerID) {
			byNumber[o.Number] = *o
		}
	}
	r.mu.Unlock()

	out := make([]domain.Order, 0, len(byNumber))
	for _, o := range byNumber {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConfirmedAt.Equal(out[j].ConfirmedAt) {
			return out[i].ConfirmedAt.After(out[j].ConfirmedAt)
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}

// Delete removes a session from memory and from the durable store.
// Pending mirror writes are flushed first so they cannot resurrect it.
func (r *Registry) Delete(ctx context.Context, sessionID, ownerID string) error {
	return r.manager.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if _, err := r.lookup(ctx, sessionID, ownerID); err != nil {
			return err
		}
		r.mu.Lock()
		delete(r.live, sessionID)
		r.mu.Unlock()

		if r.store == nil {
			return nil
		}
		if r.mirror != nil {
			if err := r.mirror.Flush(ctx); err != nil {
				return fmt.Errorf("failed to flush pending writes: %w", err)
			}
		}
		if err := r.store.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		r.logger.Info("session.deleted", "session_id", sessionID)
		return nil
	})
}

// Sweep evicts conversations idle for longer than idle and, when a durable
// store is configured, closed ones. Evicted conversations stay in the store
// and are hydrated again on their next turn, so a conversation whose mirror
// writes are still pending is kept until a later sweep. It returns the
// number evicted.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle).UnixNano()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, c := range r.live {
		if r.mirror != nil && r.mirror.Pending(id) > 0 {
			continue
		}
		if (c.closed.Load() && r.store != nil) || c.lastSeen.Load() < cutoff {
			delete(r.live, id)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("session.swept", "evicted", n, "live", len(r.live))
	}
	return n
}

// Run calls Sweep every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(idle)
		}
	}
}
