// Package sqlite implements the persistence gateway on a local SQLite file.
// Suited for single-binary deployments; the Postgres backend covers pooled
// multi-client setups.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okarpov/roomcast/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_members (
	room_id   TEXT NOT NULL,
	member_id TEXT NOT NULL,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (room_id, member_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT NOT NULL,
	sender     TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
`

// Store implements store.Gateway for SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadRoster returns the member ids authorized for the room.
func (s *Store) LoadRoster(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id FROM room_members WHERE room_id = ? ORDER BY member_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return members, nil
}

// RecordMembershipChange persists a roster mutation.
func (s *Store) RecordMembershipChange(ctx context.Context, roomID, memberID string, added bool) error {
	if added {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO room_members (room_id, member_id) VALUES (?, ?)`,
			roomID, memberID)
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = ? AND member_id = ?`, roomID, memberID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// AppendMessage stores a delivered message for audit/history.
func (s *Store) AppendMessage(ctx context.Context, roomID, sender, body string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, sender, body, created_at) VALUES (?, ?, ?, ?)`,
		roomID, sender, body, at)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit most recent messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender, body, created_at FROM (
			SELECT id, room_id, sender, body, created_at
			FROM messages WHERE room_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]*store.Message, 0, limit)
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
