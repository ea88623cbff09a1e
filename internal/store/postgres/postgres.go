// Package postgres implements the persistence gateway on PostgreSQL through
// a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okarpov/roomcast/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_members (
	room_id   TEXT NOT NULL,
	member_id TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, member_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	room_id    TEXT NOT NULL,
	sender     TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
`

// Store implements store.Gateway backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at connString and applies the schema.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// LoadRoster returns the member ids authorized for the room.
func (s *Store) LoadRoster(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT member_id FROM room_members WHERE room_id = $1 ORDER BY member_id`, roomID)
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
		_, err := s.pool.Exec(ctx,
			`INSERT INTO room_members (room_id, member_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roomID, memberID)
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND member_id = $2`, roomID, memberID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// AppendMessage stores a delivered message for audit/history.
func (s *Store) AppendMessage(ctx context.Context, roomID, sender, body string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (room_id, sender, body, created_at) VALUES ($1, $2, $3, $4)`,
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
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender, body, created_at FROM (
			SELECT id, room_id, sender, body, created_at
			FROM messages WHERE room_id = $1
			ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`, roomID, limit)
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
