package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
)

const (
	DefaultQueueSize     = 256
	DefaultDrainTimeout  = 5 * time.Second
	DefaultRetryInterval = time.Second
)

// write is one queued durable-store operation. Every kind is idempotent.
type write struct {
	kind      string
	sessionID string
	apply     func(ctx context.Context, store ports.TranscriptStore) error
}

// MirrorStats reports the writer counters.
type MirrorStats struct {
	Queued  int   `json:"queued"`
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Mirror copies conversation changes to the durable store in the background.
// Enqueueing never blocks and never discards: the backlog grows past the
// queue size (a warning is logged) and a write that exhausts its retries
// stays at the head and is tried again after the retry interval. Writes are
// applied in enqueue order. Only writes made after Close, or still queued
// when the drain timeout expires, are lost.
type Mirror struct {
	store  ports.TranscriptStore
	signal chan struct{}
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	backlog   []write
	pending   int
	bySession map[string]int
	highWater int
	warned    bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	retry         retry.Policy
	retryInterval time.Duration
	drainTimeout  time.Duration
	logger        *slog.Logger
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithMirrorLogger sets the logger.
func WithMirrorLogger(logger *slog.Logger) MirrorOption {
	return func(m *Mirror) { m.logger = logger }
}

// WithMirrorRetry sets the retry policy of a single write round.
func WithMirrorRetry(p retry.Policy) MirrorOption {
	return func(m *Mirror) { m.retry = p }
}

// WithRetryInterval sets the pause after a write round fails before the
// same write is tried again.
func WithRetryInterval(d time.Duration) MirrorOption {
	return func(m *Mirror) { m.retryInterval = d }
}

// WithDrainTimeout bounds how long Close waits for queued writes.
func WithDrainTimeout(d time.Duration) MirrorOption {
	return func(m *Mirror) { m.drainTimeout = d }
}

// NewMirror starts a background writer. size is the backlog length above
// which a warning is logged (DefaultQueueSize when size <= 0).
func NewMirror(store ports.TranscriptStore, size int, opts ...MirrorOption) *Mirror {
	if size <= 0 {
		size = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mirror{
		store:         store,
		signal:        make(chan struct{}, 1),
		stop:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		bySession:     make(map[string]int),
		highWater:     size,
		retry:         retry.Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		retryInterval: DefaultRetryInterval,
		drainTimeout:  DefaultDrainTimeout,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.run()
	return m
}

// Store returns the durable store the mirror writes to.
func (m *Mirror) Store() ports.TranscriptStore {
	return m.store
}

// AppendMessage queues a transcript append.
func (m *Mirror) AppendMessage(msg domain.Message) {
	m.enqueue(write{kind: "message", sessionID: msg.SessionID, apply: func(ctx context.Context, s ports.TranscriptStore) error {
		return s.AppendMessage(ctx, msg)
	}})
}

// UpsertSession queues a session record write.
func (m *Mirror) UpsertSession(sess domain.Session) {
	m.enqueue(write{kind: "session", sessionID: sess.ID, apply: func(ctx context.Context, s ports.TranscriptStore) error {
		return s.UpsertSession(ctx, sess)
	}})
}

// SaveDraft queues a draft write. The draft is copied.
func (m *Mirror) SaveDraft(sessionID string, d domain.OrderDraft) {
	d = d.Clone()
	m.enqueue(write{kind: "draft", sessionID: sessionID, apply: func(ctx context.Context, s ports.TranscriptStore) error {
		return s.SaveDraft(ctx, sessionID, d)
	}})
}

// UpsertOrder queues an order write.
func (m *Mirror) UpsertOrder(o domain.Order) {
	m.enqueue(write{kind: "order", sessionID: o.SessionID, apply: func(ctx context.Context, s ports.TranscriptStore) error {
		return s.UpsertOrder(ctx, o)
	}})
}

func (m *Mirror) enqueue(w write) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.dropped.Add(1)
		m.logger.Warn("mirror.closed_drop", "kind", w.kind, "session_id", w.sessionID)
		return
	}
	m.backlog = append(m.backlog, w)
	m.pending++
	m.bySession[w.sessionID]++
	backlog := len(m.backlog)
	warn := backlog > m.highWater && !m.warned
	if warn {
		m.warned = true
	}
	if backlog <= m.highWater/2 {
		m.warned = false
	}
	m.mu.Unlock()

	if warn {
		m.logger.Warn("mirror.backlog_high", "queued", backlog, "threshold", m.highWater)
	}
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// head returns the oldest queued write without removing it.
func (m *Mirror) head() (write, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.backlog) == 0 {
		return write{}, false
	}
	return m.backlog[0], true
}

// done removes the head after it was stored.
func (m *Mirror) done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.backlog[0]
	m.backlog[0] = write{}
	m.backlog = m.backlog[1:]
	if len(m.backlog) == 0 {
		m.backlog = nil
	}
	m.pending--
	if m.bySession[w.sessionID]--; m.bySession[w.sessionID] <= 0 {
		delete(m.bySession, w.sessionID)
	}
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		w, ok := m.head()
		if !ok {
			select {
			case <-m.signal:
			case <-m.stop:
				if _, ok := m.head(); !ok {
					return
				}
			}
			continue
		}

		if err := m.process(w); err != nil {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.retryInterval):
			}
			continue
		}
		m.done()
	}
}

func (m *Mirror) process(w write) error {
	start := time.Now()
	err := retry.Do(m.ctx, m.retry, func(ctx context.Context) error {
		return w.apply(ctx, m.store)
	})
	if err != nil {
		m.failed.Add(1)
		m.logger.Error("mirror.write_failed",
			"kind", w.kind,
			"session_id", w.sessionID,
			"retry_in", m.retryInterval,
			"err", err,
		)
		return err
	}
	m.written.Add(1)
	if d := time.Since(start); d > 500*time.Millisecond {
		m.logger.Warn("mirror.slow_write", "kind", w.kind, "duration_ms", d.Milliseconds())
	}
	return nil
}

// Pending returns the number of writes for sessionID not yet stored.
func (m *Mirror) Pending(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bySession[sessionID]
}

func (m *Mirror) pendingTotal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Flush waits until every write queued so far has been stored.
func (m *Mirror) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for m.pendingTotal() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns a snapshot of the writer counters. Failed counts failed
// write rounds; the write itself stays queued.
func (m *Mirror) Stats() MirrorStats {
	return MirrorStats{
		Queued:  m.pendingTotal(),
		Written: m.written.Load(),
		Failed:  m.failed.Load(),
		Dropped: m.dropped.Load(),
	}
}

// Close stops accepting writes and drains the backlog. If the drain takes
// longer than the drain timeout the in-flight write is cancelled and the
// remaining writes are lost.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		m.logger.Debug("mirror.closed", "written", m.written.Load())
		return nil
	case <-time.After(m.drainTimeout):
		remaining := m.pendingTotal()
		m.cancel()
		m.logger.Error("mirror.drain_timeout", "remaining", remaining)
		return fmt.Errorf("mirror drain timed out with %d writes pending: %w", remaining, context.DeadlineExceeded)
	}
}
