package core

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventRoomMessage notifies connections about a chat message in a room.
	EventRoomMessage EventKind = iota
	// EventPresenceJoined notifies connections that a member became active.
	EventPresenceJoined
	// EventPresenceLeft notifies connections that a member went inactive.
	EventPresenceLeft
	// EventError notifies a connection about a domain error.
	EventError
)

// Event is sent to connections to describe what happened in a room.
type Event struct {
	Kind    EventKind
	Room    string
	Member  string
	Message Message
	Error   *CoreError
}
