package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/auth"
	"github.com/okarpov/roomcast/internal/config"
	"github.com/okarpov/roomcast/internal/core"
	"github.com/okarpov/roomcast/internal/store"
	"github.com/okarpov/roomcast/internal/store/sqlite"
)

func startTestServer(t *testing.T, tweaks ...func(*config.Config)) (*httptest.Server, *auth.Verifier, store.Gateway) {
	t.Helper()

	gw, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })

	logger := zerolog.Nop()

	cfg := config.Default()
	cfg.Chat.QueueCapacity = 16
	cfg.Chat.AttachTimeout = 2 * time.Second
	cfg.Chat.DrainGrace = time.Second
	cfg.Chat.IdleTimeout = 0 // tests drive the read loop explicitly
	cfg.Chat.StorageTimeout = time.Second
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	bc := core.NewBroadcaster(cfg.Chat.SenderEcho, core.ParseOverflowPolicy(cfg.Chat.OverflowPolicy), logger)
	reg := core.NewRegistry(gw, bc, core.RegistryOptions{
		IdleWindow:    cfg.Chat.RoomIdleWindow,
		SweepInterval: time.Hour,
		LoadTimeout:   cfg.Chat.StorageTimeout,
		WriteTimeout:  cfg.Chat.StorageTimeout,
	}, logger)

	verifier := auth.NewVerifier([]byte("test-secret"), "roomcast", "roomcast-clients")

	server := NewServer(reg, gw, verifier, cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, verifier, gw
}

func seedMember(t *testing.T, gw store.Gateway, roomID, member string) {
	t.Helper()
	if err := gw.RecordMembershipChange(context.Background(), roomID, member, true); err != nil {
		t.Fatalf("seed member %s in %s: %v", member, roomID, err)
	}
}

func mustToken(t *testing.T, verifier *auth.Verifier, member string) string {
	t.Helper()
	token, err := verifier.Issue(member, time.Minute)
	if err != nil {
		t.Fatalf("issue token for %s: %v", member, err)
	}
	return token
}

type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error,omitempty"`
}

// readEventFrame reads frames until one matches the wanted event name.
func readEventFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, wantEvent string) json.RawMessage {
	t.Helper()
	for {
		var out outboundFrame
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read frame waiting for %q: %v", wantEvent, err)
		}
		if out.Type == "event" && out.Event == wantEvent {
			return out.Data
		}
	}
}
