// Package store persists conversation messages in SQLite. The bridge never
// uses it; the HTTP layer records a turn after its stream completes.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"inferbridge/internal/common/fsutil"
	"inferbridge/internal/protocol"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvalidMessage is returned by AddMessage for messages missing a
// conversation or carrying an unknown role.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one persisted chat message.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           protocol.Role `json:"role"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Store wraps a SQLite database of conversation messages.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Pass ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := fsutil.EnsureParentDir(path); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// "database is locked".
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AddMessage stores m. A missing ID or CreatedAt is filled in; the stored
// message is returned.
func (s *Store) AddMessage(ctx context.Context, m Message) (Message, error) {
	if m.ConversationID == "" {
		return Message{}, fmt.Errorf("%w: conversation id is required", ErrInvalidMessage)
	}
	if !m.Role.Valid() {
		return Message{}, fmt.Errorf("%w: role %q", ErrInvalidMessage, m.Role)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// GetMessages returns the messages of a conversation in insertion order.
// An unknown conversation yields an empty slice.
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var (
			m       Message
			role    string
			created string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = protocol.Role(role)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", created, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// History converts stored messages into a chat history.
func History(msgs []Message) []protocol.ChatMessage {
	out := make([]protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("migration %q: version prefix: %w", name, err)
		}
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}
