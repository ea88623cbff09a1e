package core

import (
	"fmt"
	"testing"
)

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	roster := []string{"sender"}
	for i := 0; i < recipients; i++ {
		roster = append(roster, fmt.Sprintf("c%d", i))
	}
	gw := newFakeGateway(map[string][]string{"bench": roster})
	reg := newTestRegistry(gw, false, OverflowDropOldest)

	sender := NewConn("sender", 8)
	var room *Room
	{
		ctx, cancel := testCtx()
		defer cancel()
		if err := reg.Attach(ctx, "bench", sender); err != nil {
			b.Fatalf("attach sender: %v", err)
		}
		r, _ := reg.Lookup("bench")
		room = r
	}

	conns := make([]*Conn, 0, recipients)
	for i := 0; i < recipients; i++ {
		c := NewConn(fmt.Sprintf("c%d", i), 8)
		ctx, cancel := testCtx()
		if err := reg.Attach(ctx, "bench", c); err != nil {
			cancel()
			b.Fatalf("attach recipient %d: %v", i, err)
		}
		cancel()
		conns = append(conns, c)
	}

	// Drain events for all but the first recipient to avoid queue overflow
	// skewing the measurement.
	target := conns[0]
	for _, c := range conns[1:] {
		go func(cl *Conn) {
			for range cl.Events() {
			}
		}(c)
	}
	go func() {
		for range sender.Events() {
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := room.Publish(sender, "payload"); err != nil {
			b.Fatalf("publish: %v", err)
		}
		<-target.Events()
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }
