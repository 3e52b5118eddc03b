package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistent memory storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process memory layer. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			since_extraction INTEGER NOT NULL DEFAULT 0,
			since_summary INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			seq INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS core_memories (
			conversation_id TEXT PRIMARY KEY,
			payload_json TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			conversation_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, session_id)
		);`,
		`CREATE INDEX IF NOT EXISTS session_summaries_recency_idx ON session_summaries(conversation_id, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS session_compressions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			covers_message_count INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS session_compressions_recency_idx ON session_compressions(conversation_id, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

func nowMS() int64 { return time.Now().UnixMilli() }

func (s *SQLiteStore) EnsureConversation(ctx context.Context, id string) (Conversation, error) {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_id, created_at_ms, updated_at_ms)
		VALUES (?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at_ms = excluded.updated_at_ms`,
		id, now, now)
	if err != nil {
		return Conversation{}, fmt.Errorf("ensure conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, created_at_ms, updated_at_ms, message_count, since_extraction, since_summary
		FROM conversations WHERE id = ?`, id)

	var conv Conversation
	var createdMS, updatedMS int64
	if err := row.Scan(&conv.ID, &conv.SessionID, &createdMS, &updatedMS,
		&conv.MessageCount, &conv.SinceExtraction, &conv.SinceSummary); err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(createdMS)
	conv.UpdatedAt = time.UnixMilli(updatedMS)
	return conv, nil
}

func (s *SQLiteStore) RotateSession(ctx context.Context, id, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET session_id = ?, updated_at_ms = ? WHERE id = ?`,
		sessionID, nowMS(), id)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetExtractionCounter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET since_extraction = 0, updated_at_ms = ? WHERE id = ?`, nowMS(), id)
	if err != nil {
		return fmt.Errorf("reset extraction counter: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetSummaryCounter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET since_summary = 0, updated_at_ms = ? WHERE id = ?`, nowMS(), id)
	if err != nil {
		return fmt.Errorf("reset summary counter: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.NewString()
	}
	createdMS := msg.CreatedAt.UnixMilli()
	if msg.CreatedAt.IsZero() {
		createdMS = nowMS()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		msg.ConversationID).Scan(&seq); err != nil {
		return fmt.Errorf("save message seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, session_id, role, content, created_at_ms, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SessionID, msg.Role, msg.Content, createdMS, seq); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			message_count = message_count + 1,
			since_extraction = since_extraction + 1,
			since_summary = since_summary + 1,
			updated_at_ms = ?
		WHERE id = ?`, nowMS(), msg.ConversationID); err != nil {
		return fmt.Errorf("bump conversation counters: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, id string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, session_id, role, content, created_at_ms
		FROM messages WHERE conversation_id = ?
		ORDER BY seq DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) AllMessages(ctx context.Context, id string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, session_id, role, content, created_at_ms
		FROM messages WHERE conversation_id = ?
		ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("all messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var createdMS int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SessionID, &m.Role, &m.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdMS)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) MessageCount(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("message count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CoreMemory(ctx context.Context, id string) (CoreMemory, bool, error) {
	var payload string
	var updatedMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json, updated_at_ms FROM core_memories WHERE conversation_id = ?`, id).
		Scan(&payload, &updatedMS)
	if err == sql.ErrNoRows {
		return CoreMemory{}, false, nil
	}
	if err != nil {
		return CoreMemory{}, false, fmt.Errorf("load core memory: %w", err)
	}

	var mem CoreMemory
	if err := json.Unmarshal([]byte(payload), &mem); err != nil {
		return CoreMemory{}, false, fmt.Errorf("decode core memory: %w", err)
	}
	mem.UpdatedAt = time.UnixMilli(updatedMS)
	return mem, true, nil
}

func (s *SQLiteStore) SaveCoreMemory(ctx context.Context, id string, mem CoreMemory) error {
	payload, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode core memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO core_memories (conversation_id, payload_json, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			updated_at_ms = excluded.updated_at_ms`,
		id, string(payload), nowMS())
	if err != nil {
		return fmt.Errorf("save core memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionSummaries(ctx context.Context, id string, limit int) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, summary, updated_at_ms
		FROM session_summaries WHERE conversation_id = ?
		ORDER BY updated_at_ms DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("session summaries: %w", err)
	}
	defer rows.Close()

	var sums []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var updatedMS int64
		if err := rows.Scan(&sum.SessionID, &sum.Summary, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.UpdatedAt = time.UnixMilli(updatedMS)
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

func (s *SQLiteStore) SaveSessionSummary(ctx context.Context, id string, sum SessionSummary) error {
	updatedMS := sum.UpdatedAt.UnixMilli()
	if sum.UpdatedAt.IsZero() {
		updatedMS = nowMS()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (conversation_id, session_id, summary, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, session_id) DO UPDATE SET
			summary = excluded.summary,
			updated_at_ms = excluded.updated_at_ms`,
		id, sum.SessionID, sum.Summary, updatedMS)
	if err != nil {
		return fmt.Errorf("save session summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionCompressions(ctx context.Context, id string, limit int) ([]SessionCompression, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, summary, covers_message_count, created_at_ms
		FROM session_compressions WHERE conversation_id = ?
		ORDER BY created_at_ms DESC, covers_message_count DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("session compressions: %w", err)
	}
	defer rows.Close()

	var comps []SessionCompression
	for rows.Next() {
		var c SessionCompression
		var createdMS int64
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.Summary, &c.CoversMessageCount, &createdMS); err != nil {
			return nil, fmt.Errorf("scan session compression: %w", err)
		}
		c.CreatedAt = time.UnixMilli(createdMS)
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

func (s *SQLiteStore) SaveSessionCompression(ctx context.Context, comp SessionCompression) error {
	if comp.ID == "" {
		comp.ID = "cmp-" + uuid.NewString()
	}
	createdMS := comp.CreatedAt.UnixMilli()
	if comp.CreatedAt.IsZero() {
		createdMS = nowMS()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_compressions (id, conversation_id, summary, covers_message_count, created_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		comp.ID, comp.ConversationID, comp.Summary, comp.CoversMessageCount, createdMS)
	if err != nil {
		return fmt.Errorf("save session compression: %w", err)
	}
	return nil
}
