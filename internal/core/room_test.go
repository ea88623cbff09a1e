package core

import (
	"context"
	"errors"
	"testing"
)

// assertSubset checks active ⊆ members on a room snapshot.
func assertSubset(t *testing.T, room *Room) {
	t.Helper()
	members := make(map[string]struct{})
	for _, m := range room.Members() {
		members[m] = struct{}{}
	}
	for _, a := range room.Active() {
		if _, ok := members[a]; !ok {
			t.Fatalf("active member %q missing from roster %v", a, room.Members())
		}
	}
}

func TestAttachRejectsNonMember(t *testing.T) {
	gw := newFakeGateway(map[string][]string{"r1": {"alice"}})
	reg := newTestRegistry(gw, false, OverflowDropOldest)

	alice := NewConn("alice", 8)
	room := mustAttach(t, reg, "r1", alice)

	if got := room.Active(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("active = %v, want [alice]", got)
	}

	bob := NewConn("bob", 8)
	ctx := context.Background()
	if err := reg.Attach(ctx, "r1", bob); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("bob attach: err = %v, want ErrNotAMember", err)
	}
	if got := room.Active(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("active after rejected attach = %v, want [alice]", got)
	}
	assertSubset(t, room)
}

func TestDetachIsIdempotent(t *testing.T) {
	gw := newFakeGateway(map[string][]string{"r1": {"alice", "carol"}})
	reg := newTestRegistry(gw, false, OverflowDropOldest)

	alice := NewConn("alice", 8)
	carol := NewConn("carol", 8)
	room := mustAttach(t, reg, "r1", alice)
	mustAttach(t, reg, "r1", carol)

	room.Detach(alice)
	after := room.Active()

	room.Detach(alice)
	if got := room.Active(); len(got) != len(after) || got[0] != after[0] {
		t.Fatalf("second detach changed state: %v vs %v", got, after)
	}
	if len(after) != 1 || after[0] != "carol" {
		t.Fatalf("active = %v, want [carol]", after)
	}
}

func TestMultiDevicePresence(t *testing.T) {
	gw := newFakeGateway(map[string][]string{"r1": {"alice", "carol"}})
	reg := newTestRegistry(gw, false, OverflowDropOldest)

	carol := NewConn("carol", 8)
	room := mustAttach(t, reg, "r1", carol)

	phone := NewConn("alice", 8)
	laptop := NewConn("alice", 8)
	mustAttach(t, reg, "r1", phone)
	mustAttach(t, reg, "r1", laptop)

	// One presence event for the member, not one per device.
	ev := mustEvent(t, carol.Events(), EventPresenceJoined)
	if ev.Member != "alice" || ev.Room != "r1" {
		t.Fatalf("unexpected presence event: %+v", ev)
	}

	room.Detach(phone)
	if got := room.Active(); len(got) != 2 {
		t.Fatalf("active after first device left = %v, want alice still present", got)
	}

	room.Detach(laptop)
	leftEv := mustEvent(t, carol.Events(), EventPresenceLeft)
	if leftEv.Member != "alice" {
		t.Fatalf("unexpected presence-left event: %+v", leftEv)
	}
	if got := room.Active(); len(got) != 1 || got[0] != "carol" {
		t.Fatalf("active = %v, want [carol]", got)
	}
	assertSubset(t, room)
}

func TestRemoveMemberForceClosesConnections(t *testing.T) {
	gw := newFakeGateway(map[string][]string{"r1": {"alice", "carol"}})
	reg := newTestRegistry(gw, false, OverflowDropOldest)

	alicePhone := NewConn("alice", 8)
	aliceLaptop := NewConn("alice", 8)
	carol := NewConn("carol", 8)
	room := mustAttach(t, reg, "r1", alicePhone)
	mustAttach(t, reg, "r1", aliceLaptop)
	mustAttach(t, reg, "r1", carol)

	ctx := context.Background()
	if err := room.RemoveMember(ctx, "alice"); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	if got := room.Active(); len(got) != 1 || got[0] != "carol" {
		t.Fatalf("active after revocation = %v, want [carol]", got)
	}
	for _, m := range room.Members() {
		if m == "alice" {
			t.Fatal("alice still on roster after revocation")
		}
	}
	assertSubset(t, room)

	eventually(t, func() bool {
		return alicePhone.State() != StateActive && aliceLaptop.State() != StateActive
	}, "revoked member's connections were not closed")

	ev := mustEvent(t, carol.Events(), EventPresenceLeft)
	if ev.Member != "alice" {
		t.Fatalf("unexpected presence event: %+v", ev)
	}

	// Revoked connections can no longer publish.
	if _, err := room.Publish(alicePhone, "still here?"); err == nil {
		t.Fatal("publish from revoked connection succeeded")
	}
}

func TestRemoveUnknownMemberIsNoop(t *testing.T) {
	gw := newFakeGateway(map[string][]string{"r1": {"alice"}})
	reg := newTestRegistry(gw, false, OverflowDropOldest)

	alice := NewConn("alice", 8)
	room := mustAttach(t, reg, "r1", alice)

	if err := room.RemoveMember(context.Background(), "ghost"); err != nil {
		t.Fatalf("removing unknown member: %v", err)
	}
	if got := room.Active(); len(got) != 1 {
		t.Fatalf("active = %v, want [alice]", got)
	}
}

func TestMembershipChangesRecorded(t *testing.T) {
	gw := newFakeGateway(map[string][]string{"r1": {"alice"}})
	reg := newTestRegistry(gw, false, OverflowDropOldest)

	room := reg.GetOrCreate("r1")
	ctx := context.Background()
	if err := room.AddMember(ctx, "dave"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// Re-adding is a no-op and must not be recorded twice.
	if err := room.AddMember(ctx, "dave"); err != nil {
		t.Fatalf("re-add member: %v", err)
	}
	if err := room.RemoveMember(ctx, "dave"); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	eventually(t, func() bool { return gw.changeCount() == 2 }, "expected exactly two recorded roster changes")
}
