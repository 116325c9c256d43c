// Package store persists agent messages and proposals in a single SQLite
// database with full-text search.
//
// Messages are append-only: nothing mutates after insert except
// delivery_status. The composite (created_at, id) is a strict total order
// and drives cursor pagination; created_at uses a fixed-width UTC timestamp
// so lexicographic order equals chronological order.
//
// Writes serialize on a store-level mutex. Reads run concurrently against
// the WAL-mode database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

// Message roles.
const (
	RoleAgent        = "agent"
	RoleUser         = "user"
	RoleAnnouncement = "announcement"
)

// Delivery statuses.
const (
	StatusUnread = "unread"
	StatusRead   = "read"
)

// MaxBodyBytes caps message bodies. One byte over is rejected.
const MaxBodyBytes = 65536

// timeLayout is RFC3339 with fixed-width nanoseconds. time.RFC3339Nano
// trims trailing zeros, which breaks lexicographic ordering of the
// created_at column; this layout does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Message is one stored message.
type Message struct {
	ID             string                 `json:"id"`
	Sender         string                 `json:"sender"`
	Recipient      string                 `json:"recipient"`
	Role           string                 `json:"role"`
	Body           string                 `json:"body"`
	ThreadID       string                 `json:"thread_id,omitempty"`
	EventType      string                 `json:"event_type,omitempty"`
	Priority       *int                   `json:"priority,omitempty"`
	DeliveryStatus string                 `json:"delivery_status"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      string                 `json:"created_at"`
}

// ThreadSummary is one row of ListThreads. Count and preview are derived,
// never materialized.
type ThreadSummary struct {
	ThreadID        string `json:"thread_id"`
	Count           int    `json:"count"`
	LatestBody      string `json:"latest_body"`
	LatestCreatedAt string `json:"latest_created_at"`
	AgentID         string `json:"agent_id,omitempty"`
}

// UnreadCount is one row of UnreadCounts.
type UnreadCount struct {
	AgentID string `json:"agent_id"`
	Count   int    `json:"count"`
}

// InsertParams are the caller-supplied fields of a new message. ID,
// timestamp, and delivery status are always server-generated.
type InsertParams struct {
	Sender    string
	Recipient string
	Role      string
	Body      string
	ThreadID  string
	EventType string
	Priority  *int
	Metadata  map[string]interface{}
}

// ReadFilter selects messages for Read. BeforeCreatedAt/BeforeID form the
// exclusive pagination cursor; both empty means start from the newest.
type ReadFilter struct {
	ThreadID        string
	AgentID         string
	BeforeCreatedAt string
	BeforeID        string
	Limit           int
}

const (
	defaultReadLimit = 50
	maxReadLimit     = 200
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'agent' CHECK(role IN ('agent', 'user', 'announcement')),
    body TEXT NOT NULL CHECK(length(body) > 0),
    thread_id TEXT,
    event_type TEXT,
    priority INTEGER CHECK(priority IS NULL OR (priority >= 0 AND priority <= 4)),
    delivery_status TEXT NOT NULL DEFAULT 'unread' CHECK(delivery_status IN ('unread', 'read')),
    metadata_json TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at DESC);

-- External-content FTS over body. Messages never update or delete body,
-- so the insert trigger alone keeps the index in sync.
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    body,
    content='messages',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, body) VALUES (new.rowid, new.body);
END;

CREATE TABLE IF NOT EXISTS proposals (
    id TEXT PRIMARY KEY,
    author TEXT NOT NULL,
    title TEXT NOT NULL CHECK(length(title) > 0),
    description TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL CHECK(type IN ('product', 'engineering')),
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'accepted', 'dismissed', 'completed')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status, created_at DESC);
`

// Store owns the messages database.
type Store struct {
	db  *sql.DB
	bus *eventbus.Bus

	// writeMu enforces the single-writer discipline. Readers rely on WAL.
	writeMu sync.Mutex

	// now is a test hook for deterministic timestamps.
	now func() time.Time
}

// Open opens (creating if needed) the store at path and applies the schema.
// bus may be nil; events are then suppressed.
func Open(path string, bus *eventbus.Bus) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "opening message store")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "enabling WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "applying store schema")
	}
	return &Store{db: db, bus: bus, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// timestamp returns the current instant in the store's canonical format.
func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *Store) publish(topic eventbus.Topic, payload interface{}) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}

// Insert validates and stores a new message, emitting message:created after
// the row is durable. Sender and recipient are server-chosen identities;
// clients never pick them.
func (s *Store) Insert(ctx context.Context, p InsertParams) (*Message, error) {
	if strings.TrimSpace(p.Recipient) == "" {
		return nil, adjerr.New(adjerr.CodeValidation, "recipient is required")
	}
	if p.Body == "" {
		return nil, adjerr.New(adjerr.CodeValidation, "body is required")
	}
	if len(p.Body) > MaxBodyBytes {
		return nil, adjerr.Newf(adjerr.CodeValidation, "body exceeds %d bytes", MaxBodyBytes)
	}
	role := p.Role
	if role == "" {
		role = RoleAgent
	}
	switch role {
	case RoleAgent, RoleUser, RoleAnnouncement:
	default:
		return nil, adjerr.Newf(adjerr.CodeValidation, "invalid role %q", role)
	}
	if p.Priority != nil && (*p.Priority < 0 || *p.Priority > 4) {
		return nil, adjerr.Newf(adjerr.CodeValidation, "priority %d out of range 0..4", *p.Priority)
	}

	var metadataJSON sql.NullString
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, adjerr.Wrap(adjerr.CodeValidation, err, "metadata not serializable")
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	msg := &Message{
		ID:             uuid.NewString(),
		Sender:         p.Sender,
		Recipient:      p.Recipient,
		Role:           role,
		Body:           p.Body,
		ThreadID:       p.ThreadID,
		EventType:      p.EventType,
		Priority:       p.Priority,
		DeliveryStatus: StatusUnread,
		Metadata:       p.Metadata,
		CreatedAt:      s.timestamp(),
	}

	s.writeMu.Lock()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO messages (id, sender, recipient, role, body, thread_id, event_type, priority, delivery_status, metadata_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Recipient, msg.Role, msg.Body,
		nullable(msg.ThreadID), nullable(msg.EventType), nullableInt(msg.Priority),
		msg.DeliveryStatus, metadataJSON, msg.CreatedAt,
	)
	s.writeMu.Unlock()
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "inserting message")
	}

	s.publish(eventbus.TopicMessageCreated, msg)
	return msg, nil
}

// Get returns one message by id.
func (s *Store) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, selectMessage+" WHERE id = ?", id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, adjerr.Newf(adjerr.CodeNotFound, "message %s not found", id)
	}
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "reading message")
	}
	return msg, nil
}

// Read returns messages newest-first. The cursor is strict: a row matches
// only when (created_at, id) < (BeforeCreatedAt, BeforeID), so no message
// repeats across adjacent pages.
func (s *Store) Read(ctx context.Context, f ReadFilter) ([]*Message, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if limit > maxReadLimit {
		limit = maxReadLimit
	}

	var (
		conds []string
		args  []interface{}
	)
	if f.ThreadID != "" {
		conds = append(conds, "thread_id = ?")
		args = append(args, f.ThreadID)
	}
	if f.AgentID != "" {
		conds = append(conds, "(sender = ? OR recipient = ?)")
		args = append(args, f.AgentID, f.AgentID)
	}
	if f.BeforeCreatedAt != "" {
		if f.BeforeID != "" {
			conds = append(conds, "(created_at < ? OR (created_at = ? AND id < ?))")
			args = append(args, f.BeforeCreatedAt, f.BeforeCreatedAt, f.BeforeID)
		} else {
			conds = append(conds, "created_at < ?")
			args = append(args, f.BeforeCreatedAt)
		}
	}

	query := selectMessage
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "reading messages")
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkRead sets one message's delivery status to read. Idempotent: marking
// an already-read message succeeds without change. Unknown ids are NotFound.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.writeMu.Lock()
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET delivery_status = ? WHERE id = ?", StatusRead, id)
	s.writeMu.Unlock()
	if err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "marking message read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "marking message read")
	}
	if n == 0 {
		return adjerr.Newf(adjerr.CodeNotFound, "message %s not found", id)
	}
	s.publish(eventbus.TopicMessageRead, eventbus.MessageRead{MessageID: id})
	return nil
}

// MarkReadBulk marks every unread message addressed to agentID as read and
// returns how many changed.
func (s *Store) MarkReadBulk(ctx context.Context, agentID string) (int, error) {
	if agentID == "" {
		return 0, adjerr.New(adjerr.CodeValidation, "agent_id is required")
	}
	s.writeMu.Lock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET delivery_status = ? WHERE recipient = ? AND delivery_status = ?",
		StatusRead, agentID, StatusUnread)
	s.writeMu.Unlock()
	if err != nil {
		return 0, adjerr.Wrap(adjerr.CodeStorage, err, "marking messages read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, adjerr.Wrap(adjerr.CodeStorage, err, "marking messages read")
	}
	if n > 0 {
		s.publish(eventbus.TopicMessageRead, eventbus.MessageRead{AgentID: agentID})
	}
	return int(n), nil
}

// ListThreads enumerates threads, newest activity first. With agentID set,
// only threads the agent participates in are returned.
func (s *Store) ListThreads(ctx context.Context, agentID string) ([]*ThreadSummary, error) {
	query := `
        SELECT thread_id,
               COUNT(*) AS cnt,
               (SELECT body FROM messages m2
                WHERE m2.thread_id = m.thread_id
                ORDER BY m2.created_at DESC, m2.id DESC LIMIT 1) AS latest_body,
               (SELECT CASE WHEN m3.sender != 'user' THEN m3.sender ELSE m3.recipient END
                FROM messages m3
                WHERE m3.thread_id = m.thread_id
                ORDER BY m3.created_at DESC, m3.id DESC LIMIT 1) AS agent_id,
               MAX(created_at) AS latest_at
        FROM messages m
        WHERE thread_id IS NOT NULL AND thread_id != ''`
	var args []interface{}
	if agentID != "" {
		query += " AND EXISTS (SELECT 1 FROM messages p WHERE p.thread_id = m.thread_id AND (p.sender = ? OR p.recipient = ?))"
		args = append(args, agentID, agentID)
	}
	query += " GROUP BY thread_id ORDER BY latest_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "listing threads")
	}
	defer rows.Close()

	var threads []*ThreadSummary
	for rows.Next() {
		t := &ThreadSummary{}
		var agent sql.NullString
		if err := rows.Scan(&t.ThreadID, &t.Count, &t.LatestBody, &agent, &t.LatestCreatedAt); err != nil {
			return nil, adjerr.Wrap(adjerr.CodeStorage, err, "scanning thread")
		}
		t.AgentID = agent.String
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "listing threads")
	}
	return threads, nil
}

// Search runs a full-text query over message bodies, best match first.
// Standard FTS5 syntax is accepted; a malformed query is a validation error.
func (s *Store) Search(ctx context.Context, query, agentID string, limit int) ([]*Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, adjerr.New(adjerr.CodeValidation, "query is required")
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if limit > maxReadLimit {
		limit = maxReadLimit
	}

	q := `
        SELECT m.id, m.sender, m.recipient, m.role, m.body, m.thread_id, m.event_type,
               m.priority, m.delivery_status, m.metadata_json, m.created_at
        FROM messages_fts
        JOIN messages m ON messages_fts.rowid = m.rowid
        WHERE messages_fts MATCH ?`
	args := []interface{}{query}
	if agentID != "" {
		q += " AND (m.sender = ? OR m.recipient = ?)"
		args = append(args, agentID, agentID)
	}
	q += " ORDER BY bm25(messages_fts) LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if strings.Contains(err.Error(), "fts5: syntax error") || strings.Contains(err.Error(), "unknown special query") {
			return nil, adjerr.Wrap(adjerr.CodeValidation, err, "malformed search query")
		}
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "searching messages")
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UnreadCounts returns per-recipient unread totals, optionally narrowed to
// one agent.
func (s *Store) UnreadCounts(ctx context.Context, agentID string) ([]*UnreadCount, error) {
	query := "SELECT recipient, COUNT(*) FROM messages WHERE delivery_status = ?"
	args := []interface{}{StatusUnread}
	if agentID != "" {
		query += " AND recipient = ?"
		args = append(args, agentID)
	}
	query += " GROUP BY recipient ORDER BY recipient"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "counting unread")
	}
	defer rows.Close()

	var counts []*UnreadCount
	for rows.Next() {
		c := &UnreadCount{}
		if err := rows.Scan(&c.AgentID, &c.Count); err != nil {
			return nil, adjerr.Wrap(adjerr.CodeStorage, err, "scanning unread count")
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "counting unread")
	}
	return counts, nil
}

const selectMessage = `
    SELECT id, sender, recipient, role, body, thread_id, event_type, priority, delivery_status, metadata_json, created_at
    FROM messages`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m        Message
		thread   sql.NullString
		event    sql.NullString
		priority sql.NullInt64
		metadata sql.NullString
	)
	err := row.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Role, &m.Body,
		&thread, &event, &priority, &m.DeliveryStatus, &metadata, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ThreadID = thread.String
	m.EventType = event.String
	if priority.Valid {
		p := int(priority.Int64)
		m.Priority = &p
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, adjerr.Wrap(adjerr.CodeStorage, err, "scanning message")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "reading messages")
	}
	return msgs, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
