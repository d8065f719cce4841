// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/kbchat/internal/turn"
)

// defaultListLimit applies when ListConversations is called without a limit.
const defaultListLimit = 100

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			steps TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (status IN ('complete', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation_created
			ON turns(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveTurn appends a turn, creating its conversation on first use.
// The conversation title is taken from the first user turn.
func (s *SQLiteStore) SaveTurn(ctx context.Context, rec *TurnRecord) error {
	if rec.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusComplete
	}

	steps := ""
	if len(rec.Turn.Steps) > 0 {
		encoded, err := EncodeSteps(rec.Turn.Steps)
		if err != nil {
			return err
		}
		steps = encoded
	}

	title := ""
	if rec.Turn.Role == turn.RoleUser {
		title = titleFrom(rec.Turn.Content)
	}
	ts := rec.CreatedAt.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			title = CASE WHEN conversations.title = '' THEN excluded.title ELSE conversations.title END
	`, rec.ConversationID, title, ts, ts)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, role, content, steps, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ConversationID, string(rec.Turn.Role), rec.Turn.Content, steps, rec.Status, ts)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("saved turn",
		"turn_id", rec.ID,
		"conversation_id", rec.ConversationID,
		"role", rec.Turn.Role,
		"status", rec.Status,
	)
	return nil
}

// ListTurns returns a conversation's turns in recording order.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string) ([]*TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, steps, status, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var out []*TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var role, steps, createdAt string
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &role, &rec.Turn.Content, &steps, &rec.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		rec.Turn.Role = turn.Role(role)
		if rec.Turn.Steps, err = DecodeSteps(steps); err != nil {
			return nil, fmt.Errorf("turn %s: %w", rec.ID, err)
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return out, nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at, COUNT(t.id)
		FROM conversations c
		LEFT JOIN turns t ON t.conversation_id = c.id
		WHERE c.id = ?
		GROUP BY c.id
	`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at, COUNT(t.id)
		FROM conversations c
		LEFT JOIN turns t ON t.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation and its turns.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAt, updatedAt string
	if err := row.Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt, &conv.TurnCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	var err error
	if conv.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}
