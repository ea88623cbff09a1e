package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/store"
)

// Room groups authorized members and fans messages out to their live
// connections. Two sets are kept deliberately separate: members is the
// authorization roster, active is who currently holds at least one live
// connection. active is always a subset of members; the single room mutex
// makes the invariant atomic across every mutation.
type Room struct {
	ID string

	mu         sync.Mutex
	members    map[string]struct{}
	active     map[string]int // member -> live connection count
	conns      map[*Conn]struct{}
	loadErr    error
	retired    bool
	emptySince time.Time

	loaded chan struct{} // closed once the roster load resolved

	bc           *Broadcaster
	gw           store.Gateway
	writeTimeout time.Duration
	log          zerolog.Logger
}

func newRoom(id string, bc *Broadcaster, gw store.Gateway, writeTimeout time.Duration, logger zerolog.Logger) *Room {
	return &Room{
		ID:           id,
		members:      make(map[string]struct{}),
		active:       make(map[string]int),
		conns:        make(map[*Conn]struct{}),
		emptySince:   time.Now(),
		loaded:       make(chan struct{}),
		bc:           bc,
		gw:           gw,
		writeTimeout: writeTimeout,
		log:          logger.With().Str("room", id).Logger(),
	}
}

// applyRoster resolves the asynchronous roster load. Attaches block until
// this is called; a failed load fails the room open with ErrStorageUnavailable.
func (r *Room) applyRoster(members []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.loaded:
		return
	default:
	}
	if err != nil {
		r.loadErr = err
	} else {
		for _, m := range members {
			r.members[m] = struct{}{}
		}
	}
	close(r.loaded)
}

// waitRoster blocks until the roster load resolved or ctx expires.
func (r *Room) waitRoster(ctx context.Context) error {
	select {
	case <-r.loaded:
	case <-ctx.Done():
		return fmt.Errorf("roster load pending: %w", ErrStorageUnavailable)
	}
	r.mu.Lock()
	err := r.loadErr
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("roster load failed: %w", ErrStorageUnavailable)
	}
	return nil
}

// Attach registers conn for fan-out and marks its member active. This is the
// only path by which the active set grows. Fails with ErrNotAMember for
// identities outside the roster; blocks (bounded by ctx) while the roster is
// still loading.
func (r *Room) Attach(ctx context.Context, conn *Conn) error {
	if err := r.waitRoster(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.retired {
		r.mu.Unlock()
		return errRoomRetired
	}
	if _, ok := r.members[conn.Member]; !ok {
		r.mu.Unlock()
		return ErrNotAMember
	}
	if err := conn.markActive(r); err != nil {
		r.mu.Unlock()
		return err
	}
	r.conns[conn] = struct{}{}
	r.active[conn.Member]++
	r.emptySince = time.Time{}
	if r.active[conn.Member] == 1 {
		// Presence rides the same fan-out as chat messages; emitting under
		// the lock orders it after the attach that caused it.
		r.bc.publishLocked(r, conn, &Event{Kind: EventPresenceJoined, Room: r.ID, Member: conn.Member})
	}
	r.mu.Unlock()

	r.log.Debug().Str("member", conn.Member).Str("conn_id", conn.ID).Msg("connection attached")
	return nil
}

// Detach removes conn from the fan-out set and, if it was the member's last
// live connection, drops the member from active. Idempotent: duplicate close
// events racing with network teardown are no-ops.
func (r *Room) Detach(conn *Conn) {
	r.mu.Lock()
	r.detachLocked(conn)
	r.mu.Unlock()
}

func (r *Room) detachLocked(conn *Conn) {
	if _, ok := r.conns[conn]; !ok {
		return
	}
	delete(r.conns, conn)
	if n := r.active[conn.Member]; n > 1 {
		r.active[conn.Member] = n - 1
	} else {
		delete(r.active, conn.Member)
		r.bc.publishLocked(r, nil, &Event{Kind: EventPresenceLeft, Room: r.ID, Member: conn.Member})
	}
	if len(r.conns) == 0 {
		r.emptySince = time.Now()
	}
	r.log.Debug().Str("member", conn.Member).Str("conn_id", conn.ID).Msg("connection detached")
}

// AddMember puts member on the authorization roster.
func (r *Room) AddMember(ctx context.Context, member string) error {
	if err := r.waitRoster(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	_, exists := r.members[member]
	r.members[member] = struct{}{}
	r.mu.Unlock()
	if !exists {
		r.recordMembership(member, true)
	}
	return nil
}

// RemoveMember revokes membership. Revocation implies presence revocation:
// all of the member's live connections are unregistered in the same critical
// section that shrinks the roster, then force-closed outside the lock.
func (r *Room) RemoveMember(ctx context.Context, member string) error {
	if err := r.waitRoster(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.members[member]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.members, member)
	var victims []*Conn
	for c := range r.conns {
		if c.Member == member {
			victims = append(victims, c)
			delete(r.conns, c)
		}
	}
	if _, wasActive := r.active[member]; wasActive {
		delete(r.active, member)
		r.bc.publishLocked(r, nil, &Event{Kind: EventPresenceLeft, Room: r.ID, Member: member})
	}
	if len(r.conns) == 0 {
		r.emptySince = time.Now()
	}
	r.mu.Unlock()

	for _, c := range victims {
		c.Close()
	}
	r.recordMembership(member, false)
	r.log.Info().Str("member", member).Int("closed_conns", len(victims)).Msg("membership revoked")
	return nil
}

// Publish submits a message from sender for fan-out to every other active
// connection in the room (every connection including the sender's when echo
// is on). Per-sender FIFO holds because each publish enqueues to all
// recipients under the room lock.
func (r *Room) Publish(sender *Conn, text string) (Message, error) {
	if err := sender.sendable(); err != nil {
		return Message{}, err
	}

	msg := Message{Room: r.ID, From: sender.Member, Text: text, CreatedAt: time.Now()}

	r.mu.Lock()
	if _, ok := r.conns[sender]; !ok {
		// Lost the race with a concurrent revocation or teardown.
		r.mu.Unlock()
		return Message{}, ErrConnectionClosing
	}
	exclude := sender
	if r.bc.Echo() {
		exclude = nil
	}
	r.bc.publishLocked(r, exclude, &Event{Kind: EventRoomMessage, Room: r.ID, Member: sender.Member, Message: msg})
	r.mu.Unlock()

	r.appendAudit(msg)
	return msg, nil
}

// Members returns the authorization roster, sorted.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.members))
	for m := range r.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Active returns the members with at least one live connection, sorted.
func (r *Room) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for m := range r.active {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// retireIfIdle marks the room retired when it has had no connections for at
// least window. Returns whether the room was retired.
func (r *Room) retireIfIdle(window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return true
	}
	if len(r.conns) > 0 || r.emptySince.IsZero() {
		return false
	}
	if time.Since(r.emptySince) < window {
		return false
	}
	r.retired = true
	return true
}

// recordMembership writes the roster change through the gateway off the room
// lock, fire-and-forget with a bounded timeout.
func (r *Room) recordMembership(member string, added bool) {
	if r.gw == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()
		if err := r.gw.RecordMembershipChange(ctx, r.ID, member, added); err != nil {
			r.log.Warn().Err(err).Str("member", member).Bool("added", added).Msg("record membership change")
		}
	}()
}

// appendAudit stores a delivered message for audit/history, off the room lock.
// Not required for correctness of the live fan-out.
func (r *Room) appendAudit(msg Message) {
	if r.gw == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()
		if err := r.gw.AppendMessage(ctx, msg.Room, msg.From, msg.Text, msg.CreatedAt); err != nil {
			r.log.Warn().Err(err).Str("member", msg.From).Msg("append message audit")
		}
	}()
}
