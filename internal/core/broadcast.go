package core

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/metrics"
)

// OverflowPolicy decides what happens to a recipient whose outbound queue is
// full at publish time. The publisher is never blocked either way.
type OverflowPolicy int

const (
	// OverflowDropOldest discards the recipient's oldest queued event and
	// marks the connection as lagging.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowDisconnect force-closes the lagging connection.
	OverflowDisconnect
)

// ParseOverflowPolicy maps a config string to a policy, defaulting to
// drop-oldest for unknown values.
func ParseOverflowPolicy(s string) OverflowPolicy {
	if strings.EqualFold(s, "disconnect") {
		return OverflowDisconnect
	}
	return OverflowDropOldest
}

// Broadcaster is the per-room fan-out engine. One instance is shared by all
// rooms; per-room ordering comes from publishing under the room lock.
type Broadcaster struct {
	echo   bool
	policy OverflowPolicy
	log    zerolog.Logger
}

// NewBroadcaster builds the fan-out engine. echo controls whether a sender's
// own connection receives its published messages back.
func NewBroadcaster(echo bool, policy OverflowPolicy, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{echo: echo, policy: policy, log: logger}
}

// Echo reports whether sender echo is enabled.
func (b *Broadcaster) Echo() bool {
	return b.echo
}

// publishLocked fans ev out to every connection registered in r, excluding
// exclude when non-nil. Must be called with r.mu held; enqueueing never
// blocks, so the critical section stays short. Recipients that overflow under
// the disconnect policy are unregistered inline and closed asynchronously.
func (b *Broadcaster) publishLocked(r *Room, exclude *Conn, ev *Event) {
	var victims []*Conn
	delivered := 0
	for c := range r.conns {
		if c == exclude {
			continue
		}
		if c.enqueue(ev, b.policy) {
			victims = append(victims, c)
			continue
		}
		delivered++
	}
	if ev.Kind == EventRoomMessage {
		metrics.MessagesDelivered.Add(float64(delivered))
	}

	for _, v := range victims {
		b.log.Warn().
			Str("room", r.ID).
			Str("member", v.Member).
			Str("conn_id", v.ID).
			Msg("recipient overflow, disconnecting")
		r.detachLocked(v)
		// Close detaches again; by then the connection is already gone from
		// the room, which Detach treats as a no-op.
		go v.Close()
	}
}
