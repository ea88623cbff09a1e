package store

import (
	"context"
	"time"
)

// Member is a roster entry for a room.
type Member struct {
	RoomID   string
	MemberID string
	JoinedAt time.Time
}

// Message is a persisted chat message, kept for audit and history replay.
type Message struct {
	ID        int64
	RoomID    string
	Sender    string
	Body      string
	CreatedAt time.Time
}

// Gateway is the persistence collaborator consumed by the chat core. The
// core never calls it while holding room state; implementations are expected
// to be safe for concurrent use.
type Gateway interface {
	// LoadRoster returns the member ids authorized for the room.
	// An unknown room yields an empty roster, not an error.
	LoadRoster(ctx context.Context, roomID string) ([]string, error)

	// RecordMembershipChange persists a roster mutation.
	RecordMembershipChange(ctx context.Context, roomID, memberID string, added bool) error

	// AppendMessage stores a delivered message for audit/history.
	AppendMessage(ctx context.Context, roomID, sender, body string, at time.Time) error

	// ListMessages returns up to limit most recent messages for the room,
	// oldest first.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)

	// Close releases the underlying database resources.
	Close() error
}
