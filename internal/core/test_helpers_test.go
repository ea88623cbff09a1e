package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/store"
)

// fakeGateway is an in-memory store.Gateway for core tests.
type fakeGateway struct {
	mu        sync.Mutex
	rosters   map[string][]string
	loadErr   error
	loadDelay time.Duration
	loads     atomic.Int32
	changes   []rosterChange
	messages  []string
}

type rosterChange struct {
	room   string
	member string
	added  bool
}

func newFakeGateway(rosters map[string][]string) *fakeGateway {
	if rosters == nil {
		rosters = make(map[string][]string)
	}
	return &fakeGateway{rosters: rosters}
}

func (f *fakeGateway) LoadRoster(ctx context.Context, roomID string) ([]string, error) {
	f.loads.Add(1)
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]string(nil), f.rosters[roomID]...), nil
}

func (f *fakeGateway) RecordMembershipChange(ctx context.Context, roomID, memberID string, added bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, rosterChange{room: roomID, member: memberID, added: added})
	return nil
}

func (f *fakeGateway) AppendMessage(ctx context.Context, roomID, sender, body string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, body)
	return nil
}

func (f *fakeGateway) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	return nil, nil
}

func (f *fakeGateway) Close() error { return nil }

func (f *fakeGateway) changeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

func newTestRegistry(gw *fakeGateway, echo bool, policy OverflowPolicy) *Registry {
	bc := NewBroadcaster(echo, policy, zerolog.Nop())
	return NewRegistry(gw, bc, RegistryOptions{
		IdleWindow:    time.Minute,
		SweepInterval: time.Hour,
		LoadTimeout:   time.Second,
		WriteTimeout:  time.Second,
	}, zerolog.Nop())
}

func testCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func mustAttach(t *testing.T, reg *Registry, roomID string, conn *Conn) *Room {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := reg.Attach(ctx, roomID, conn); err != nil {
		t.Fatalf("attach %s to %s: %v", conn.Member, roomID, err)
	}
	r, ok := reg.Lookup(roomID)
	if !ok {
		t.Fatalf("room %s missing after attach", roomID)
	}
	return r
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// collectMessages reads n chat messages, skipping presence events.
func collectMessages(t *testing.T, ch <-chan *Event, n int) []Message {
	t.Helper()

	msgs := make([]Message, 0, n)
	deadline := time.Now().Add(2 * time.Second)
	for len(msgs) < n && time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == EventRoomMessage {
				msgs = append(msgs, ev.Message)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if len(msgs) < n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	return msgs
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
