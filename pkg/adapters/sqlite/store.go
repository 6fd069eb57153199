// Package sqlite implements ports.TranscriptStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/labwire/orderdesk/pkg/domain"
	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	ended_at INTEGER,
	message_count INTEGER NOT NULL DEFAULT 0,
	tool_call_count INTEGER NOT NULL DEFAULT 0,
	order_number TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, last_activity_at);

CREATE TABLE IF NOT EXISTS drafts (
	session_id TEXT PRIMARY KEY,
	draft_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls_json TEXT,
	tool_call_id TEXT,
	tool_name TEXT,
	content_hash TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS orders (
	number TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	order_json TEXT NOT NULL,
	confirmed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders(owner_id, confirmed_at);
`

// Store implements ports.TranscriptStore using SQLite.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writers to avoid SQLITE_BUSY
}

// Open creates the database file if needed and applies the schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// UpsertSession creates or replaces the session record.
func (s *Store) UpsertSession(ctx context.Context, sess domain.Session) error {
	query := `
	INSERT INTO sessions (id, owner_id, status, created_at, last_activity_at, ended_at, message_count, tool_call_count, order_number)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		status = excluded.status,
		last_activity_at = excluded.last_activity_at,
		ended_at = excluded.ended_at,
		message_count = excluded.message_count,
		tool_call_count = excluded.tool_call_count,
		order_number = excluded.order_number`

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = unixNano(*sess.EndedAt)
	}
	var orderNumber any
	if sess.OrderNumber != "" {
		orderNumber = sess.OrderNumber
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.OwnerID, string(sess.Status),
		unixNano(sess.CreatedAt), unixNano(sess.LastActivityAt), endedAt,
		sess.MessageCount, sess.ToolCallCount, orderNumber,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, owner_id, status, created_at, last_activity_at, ended_at, message_count, tool_call_count, order_number`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.Session, error) {
	var sess domain.Session
	var status string
	var createdAt, lastActivity int64
	var endedAt sql.NullInt64
	var orderNumber sql.NullString
	err := row.Scan(&sess.ID, &sess.OwnerID, &status, &createdAt, &lastActivity, &endedAt,
		&sess.MessageCount, &sess.ToolCallCount, &orderNumber)
	if err != nil {
		return sess, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = fromUnixNano(createdAt)
	sess.LastActivityAt = fromUnixNano(lastActivity)
	if endedAt.Valid {
		ended := fromUnixNano(endedAt.Int64)
		sess.EndedAt = &ended
	}
	sess.OrderNumber = orderNumber.String
	return sess, nil
}

// LoadSession retrieves a session.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return &sess, nil
}

// ListSessions returns the sessions of an owner, most recent activity first.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY last_activity_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes the session, its draft and its transcript.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM drafts WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
	}
	return tx.Commit()
}

// SaveDraft replaces the draft of a session.
func (s *Store) SaveDraft(ctx context.Context, sessionID string, d domain.OrderDraft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	query := `
	INSERT INTO drafts (session_id, draft_json, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET draft_json = excluded.draft_json, updated_at = excluded.updated_at`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// LoadDraft retrieves the draft of a session.
func (s *Store) LoadDraft(ctx context.Context, sessionID string) (*domain.OrderDraft, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT draft_json FROM drafts WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	var d domain.OrderDraft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &d, nil
}

// AppendMessage adds a message to the transcript. Appending an ID twice is a no-op.
func (s *Store) AppendMessage(ctx context.Context, m domain.Message) error {
	var toolCalls any
	if len(m.ToolCalls) > 0 {
		data, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(data)
	}
	query := `
	INSERT INTO messages (id, session_id, role, content, tool_calls_json, tool_call_id, tool_name, content_hash, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.SessionID, string(m.Role), m.Content, toolCalls,
		m.ToolCallID, m.ToolName, m.ContentHash, unixNano(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns the transcript of a session in append order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls_json, tool_call_id, tool_name, content_hash, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var role string
		var toolCalls, toolCallID, toolName, hash sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &toolCalls, &toolCallID, &toolName, &hash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		m.ContentHash = hash.String
		m.CreatedAt = fromUnixNano(createdAt)
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls of %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertOrder creates or replaces an order.
func (s *Store) UpsertOrder(ctx context.Context, o domain.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	query := `
	INSERT INTO orders (number, session_id, owner_id, order_json, confirmed_at) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(number) DO UPDATE SET
		owner_id = excluded.owner_id,
		order_json = excluded.order_json,
		confirmed_at = excluded.confirmed_at`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, query, o.Number, o.SessionID, o.OwnerID, string(data), unixNano(o.ConfirmedAt)); err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// LoadOrder retrieves an order by number.
func (s *Store) LoadOrder(ctx context.Context, number string) (*domain.Order, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT order_json FROM orders WHERE number = ?`, number).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	var o domain.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListOrders returns the orders of an owner, most recent first.
func (s *Store) ListOrders(ctx context.Context, ownerID string) ([]domain.Order, error) {
	query := `SELECT order_json FROM orders`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY confirmed_at DESC, number DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Order, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		var o domain.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
