package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/labwire/orderdesk/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "orderdesk:"

// appendScript pushes a message only when its ID is new to the session.
// KEYS[1] = id set, KEYS[2] = message list, ARGV[1] = id, ARGV[2] = payload, ARGV[3] = ttl ms (0 = none)
var appendScript = backend.NewScript(`
if redis.call("sadd", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("rpush", KEYS[2], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call("pexpire", KEYS[1], ttl)
	redis.call("pexpire", KEYS[2], ttl)
end
return 1
`)

// Store implements ports.TranscriptStore on Redis.
//
// Sessions, drafts and transcripts share an optional TTL refreshed on every
// write. Orders never expire. Key layout, relative to the prefix:
//
//	session:<id>          JSON session
//	draft:<id>            JSON draft
//	messages:<id>         LIST of JSON messages
//	msgids:<id>           SET of appended message IDs
//	sessions              ZSET of session IDs scored by expiry (0 = none)
//	order:<number>        JSON order
//	orders                ZSET of order numbers scored by confirmation time
type Store struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets the time-to-live of session data. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewFromClient creates a store on an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New connects to the server at addr and verifies it answers.
func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := backend.NewClient(&backend.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewFromClient(client, opts...), nil
}

// Client returns the underlying client, for sharing with a Locker.
func (s *Store) Client() backend.UniversalClient {
	return s.client
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// expiryScore is the index score of a session written now.
func (s *Store) expiryScore() float64 {
	if s.ttl <= 0 {
		return 0
	}
	return float64(s.now().Add(s.ttl).Unix())
}

// UpsertSession creates or replaces the session record.
func (s *Store) UpsertSession(ctx context.Context, sess domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("session", sess.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.key("sessions"), backend.Z{Score: s.expiryScore(), Member: sess.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadSession retrieves a session.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess domain.Session
	if err := s.getJSON(ctx, s.key("session", sessionID), &sess); err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// ListSessions returns the sessions of an owner, most recent activity first.
// Expired entries are removed from the index lazily.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]domain.Session, error) {
	index := s.key("sessions")
	if s.ttl > 0 {
		now := strconv.FormatInt(s.now().Unix(), 10)
		if err := s.client.ZRemRangeByScore(ctx, index, "(0", now).Err(); err != nil {
			return nil, fmt.Errorf("failed to clean session index: %w", err)
		}
	}

	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("session", id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	out := make([]domain.Session, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // expired between ZRANGE and MGET
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", ids[i], err)
		}
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
	pipe := s.client.TxPipeline()
	pipe.Del(ctx,
		s.key("session", sessionID),
		s.key("draft", sessionID),
		s.key("messages", sessionID),
		s.key("msgids", sessionID),
	)
	pipe.ZRem(ctx, s.key("sessions"), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// SaveDraft replaces the draft of a session.
func (s *Store) SaveDraft(ctx context.Context, sessionID string, d domain.OrderDraft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key("draft", sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save draft %s: %w", sessionID, err)
	}
	return nil
}

// LoadDraft retrieves the draft of a session.
func (s *Store) LoadDraft(ctx context.Context, sessionID string) (*domain.OrderDraft, error) {
	var d domain.OrderDraft
	if err := s.getJSON(ctx, s.key("draft", sessionID), &d); err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load draft %s: %w", sessionID, err)
	}
	return &d, nil
}

// AppendMessage adds a message to the transcript. Appending an ID twice is a no-op.
func (s *Store) AppendMessage(ctx context.Context, m domain.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	keys := []string{s.key("msgids", m.SessionID), s.key("messages", m.SessionID)}
	if err := appendScript.Run(ctx, s.client, keys, m.ID, data, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to append message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns the transcript of a session in append order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	raws, err := s.client.LRange(ctx, s.key("messages", sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", sessionID, err)
	}
	out := make([]domain.Message, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal([]byte(raw), &out[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message of %s: %w", sessionID, err)
		}
	}
	return out, nil
}

// UpsertOrder creates or replaces an order.
func (s *Store) UpsertOrder(ctx context.Context, o domain.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("order", o.Number), data, 0)
	pipe.ZAdd(ctx, s.key("orders"), backend.Z{Score: float64(o.ConfirmedAt.UnixMilli()), Member: o.Number})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.Number, err)
	}
	return nil
}

// LoadOrder retrieves an order by number.
func (s *Store) LoadOrder(ctx context.Context, number string) (*domain.Order, error) {
	var o domain.Order
	if err := s.getJSON(ctx, s.key("order", number), &o); err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order %s: %w", number, err)
	}
	return &o, nil
}

// ListOrders returns the orders of an owner, most recent first.
func (s *Store) ListOrders(ctx context.Context, ownerID string) ([]domain.Order, error) {
	numbers, err := s.client.ZRevRange(ctx, s.key("orders"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	out := make([]domain.Order, 0, len(numbers))
	if len(numbers) == 0 {
		return out, nil
	}

	keys := make([]string, len(numbers))
	for i, n := range numbers {
		keys[i] = s.key("order", n)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var o domain.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order %s: %w", numbers[i], err)
		}
		if ownerID == "" || o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
