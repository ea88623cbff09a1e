package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/auth"
	"github.com/okarpov/roomcast/internal/config"
	"github.com/okarpov/roomcast/internal/core"
	"github.com/okarpov/roomcast/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core connections.
// One websocket session maps to exactly one core.Conn bound to one room.
type WSHandler struct {
	reg      *core.Registry
	verifier *auth.Verifier
	cfg      config.ChatConfig
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(reg *core.Registry, verifier *auth.Verifier, cfg config.ChatConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{reg: reg, verifier: verifier, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		stdhttp.Error(w, "room is required", stdhttp.StatusBadRequest)
		return
	}

	token := bearerToken(r)
	if token == "" {
		stdhttp.Error(w, "missing token", stdhttp.StatusUnauthorized)
		return
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws token rejected")
		stdhttp.Error(w, "invalid token", stdhttp.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer ws.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := core.NewConn(claims.MemberID, h.cfg.QueueCapacity)

	attachCtx, attachCancel := context.WithTimeout(ctx, h.cfg.AttachTimeout)
	err = h.reg.Attach(attachCtx, roomID, conn)
	attachCancel()
	if err != nil {
		// Rejection signal goes out before teardown.
		coreErr := core.AsCoreError(err)
		_ = wsjson.Write(ctx, ws, proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: coreErr.Code, Msg: coreErr.Message},
		})
		conn.Close()
		h.log.Info().
			Str("room", roomID).
			Str("member", claims.MemberID).
			Str("code", coreErr.Code).
			Msg("ws attach rejected")
		ws.Close(websocket.StatusPolicyViolation, coreErr.Code)
		return
	}

	room := conn.Room()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, ws, room, conn)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, ws, conn)
	}()

	err = <-errCh
	conn.Close() // begin drain; the writer flushes with its own grace timeout

	select {
	case <-errCh:
	case <-time.After(h.cfg.DrainGrace + 2*time.Second):
		cancel()
		<-errCh
	}
	cancel()
	conn.Finish()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "error"
			h.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("ws connection closed with error")
		}
	}

	ws.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, room *core.Room, conn *core.Conn) error {
	for {
		inbound, err := h.readInbound(ctx, ws)
		if err != nil {
			return err
		}

		switch inbound.Type {
		case proto.InboundTypeLeave:
			return nil
		case proto.InboundTypeMsg:
			var msg proto.MsgData
			if err := json.Unmarshal(inbound.Data, &msg); err != nil {
				return err
			}
			if msg.Text == "" {
				if err := h.writeError(ctx, ws, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "text is required"}); err != nil {
					return err
				}
				continue
			}
			if _, err := room.Publish(conn, msg.Text); err != nil {
				coreErr := core.AsCoreError(err)
				if err := h.writeError(ctx, ws, &proto.Error{Code: coreErr.Code, Msg: coreErr.Message}); err != nil {
					return err
				}
				if errors.Is(err, core.ErrConnectionClosed) {
					return nil
				}
			}
		default:
			if err := h.writeError(ctx, ws, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}); err != nil {
				return err
			}
		}
	}
}

// readInbound reads one frame, bounded by the inbound idle timeout.
func (h *WSHandler) readInbound(ctx context.Context, ws *websocket.Conn) (proto.Inbound, error) {
	readCtx := ctx
	if h.cfg.IdleTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, h.cfg.IdleTimeout)
		defer cancel()
	}

	var inbound proto.Inbound
	if err := wsjson.Read(readCtx, ws, &inbound); err != nil {
		return proto.Inbound{}, err
	}
	return inbound, nil
}

func (h *WSHandler) writeError(ctx context.Context, ws *websocket.Conn, protoErr *proto.Error) error {
	return wsjson.Write(ctx, ws, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: protoErr,
	})
}

func (h *WSHandler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *core.Conn) error {
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, ws, outboundFromEvent(ev)); err != nil {
				h.log.Error().Err(err).Str("conn_id", conn.ID).Msg("write ws event")
				return err
			}
		case <-conn.Draining():
			return h.flush(ws, conn)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush drains the remaining outbound queue best-effort within the drain
// grace period, then completes the connection's terminal transition.
func (h *WSHandler) flush(ws *websocket.Conn, conn *core.Conn) error {
	defer conn.Finish()

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DrainGrace)
	defer cancel()

	for {
		select {
		case ev := <-conn.Events():
			if err := wsjson.Write(ctx, ws, outboundFromEvent(ev)); err != nil {
				return nil
			}
		default:
			return nil
		}
	}
}

// bearerToken extracts the JWT from the Authorization header, falling back
// to the token query parameter for browser WebSocket clients that cannot set
// headers.
func bearerToken(r *stdhttp.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
