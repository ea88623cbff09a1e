package core

import (
	"sync"

	"github.com/google/uuid"

	"github.com/okarpov/roomcast/internal/metrics"
)

// ConnState is a point in the connection lifecycle.
// Transitions: Connecting -> Active -> Draining -> Closed, with a direct
// Connecting -> Closed edge for rejected attaches. Closed is terminal and
// entered exactly once.
type ConnState int

const (
	// StateConnecting means the transport is up and the identity is known,
	// but the connection has not been attached to a room yet.
	StateConnecting ConnState = iota
	// StateActive means the connection is attached and eligible to publish
	// and receive.
	StateActive
	// StateDraining means the outbound queue is being flushed; new
	// submissions are rejected with ErrConnectionClosing.
	StateDraining
	// StateClosed is terminal.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn wraps one authenticated client's duplex session with a room.
// Identity is (room, member, instance id); a member may hold several
// simultaneous connections to the same room.
type Conn struct {
	ID     string
	Member string

	mu       sync.Mutex
	state    ConnState
	room     *Room
	events   chan *Event
	lagging  bool
	drops    int
	draining chan struct{}
	done     chan struct{}
}

// NewConn constructs a connection in the Connecting state with a bounded
// outbound queue of queueCap events.
func NewConn(member string, queueCap int) *Conn {
	if queueCap <= 0 {
		queueCap = 32
	}
	return &Conn{
		ID:       uuid.NewString(),
		Member:   member,
		state:    StateConnecting,
		events:   make(chan *Event, queueCap),
		draining: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events is the outbound delivery queue consumed by the transport writer.
func (c *Conn) Events() <-chan *Event {
	return c.events
}

// Draining is closed when the connection enters the Draining or Closed state.
func (c *Conn) Draining() <-chan struct{} {
	return c.draining
}

// Done is closed when the connection reaches the terminal Closed state.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Lagging reports whether the outbound queue overflowed at least once.
func (c *Conn) Lagging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lagging
}

// Drops reports how many events were discarded due to queue overflow.
func (c *Conn) Drops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

// Room returns the room this connection is attached to, nil before attach.
func (c *Conn) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Close begins teardown. From Connecting the connection goes straight to
// Closed (rejection path); from Active it detaches from its room and enters
// Draining, leaving the queue flush to the transport writer. Closing an
// already draining or closed connection is a no-op.
func (c *Conn) Close() {
	c.mu.Lock()
	switch c.state {
	case StateDraining, StateClosed:
		c.mu.Unlock()
		return
	case StateConnecting:
		c.state = StateClosed
		close(c.draining)
		close(c.done)
		c.mu.Unlock()
		return
	}

	c.state = StateDraining
	close(c.draining)
	room := c.room
	lagging := c.lagging
	c.mu.Unlock()

	metrics.ActiveConnections.Dec()
	if lagging {
		metrics.LaggingConnections.Dec()
	}
	if room != nil {
		room.Detach(c)
	}
}

// Finish completes the Draining -> Closed transition after the transport
// flushed (or abandoned) the outbound queue.
func (c *Conn) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDraining {
		return
	}
	c.state = StateClosed
	close(c.done)
}

// markActive moves Connecting -> Active. Called by Room.attach under the
// room lock once the roster check passed.
func (c *Conn) markActive(r *Room) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnecting:
		c.state = StateActive
		c.room = r
		metrics.ActiveConnections.Inc()
		return nil
	case StateDraining:
		return ErrConnectionClosing
	default:
		return ErrConnectionClosed
	}
}

// sendable reports whether the connection may submit messages for broadcast.
func (c *Conn) sendable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateActive:
		return nil
	case StateConnecting, StateDraining:
		return ErrConnectionClosing
	default:
		return ErrConnectionClosed
	}
}

// enqueue offers an event to the outbound queue without ever blocking the
// publisher. On overflow the behavior follows the broadcast policy: with
// drop-oldest the oldest queued event is discarded and the connection is
// marked lagging; with disconnect the caller is told to force-close the
// connection. Returns true when the connection must be disconnected.
func (c *Conn) enqueue(ev *Event, policy OverflowPolicy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return false
	}

	select {
	case c.events <- ev:
		return false
	default:
	}

	if policy == OverflowDisconnect {
		return true
	}

	// Drop the oldest unsent event to make room. The writer may race us and
	// drain the queue in between, so the second offer is best-effort too.
	select {
	case <-c.events:
		c.drops++
		metrics.OverflowDrops.Inc()
	default:
	}
	select {
	case c.events <- ev:
	default:
		c.drops++
		metrics.OverflowDrops.Inc()
	}
	if !c.lagging {
		c.lagging = true
		metrics.LaggingConnections.Inc()
	}
	return false
}
