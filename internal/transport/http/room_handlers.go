package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/core"
	"github.com/okarpov/roomcast/internal/store"
)

// RoomHandlers exposes membership administration and presence/history views.
// Membership mutations go through the live room so revocation force-closes
// the member's connections immediately.
type RoomHandlers struct {
	reg            *core.Registry
	gw             store.Gateway
	log            *zerolog.Logger
	storageTimeout time.Duration
}

// AddMemberRequest is the body for POST /api/rooms/:id/members.
type AddMemberRequest struct {
	Member string `json:"member" binding:"required"`
}

// PresenceResponse describes a room's roster and active members.
type PresenceResponse struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
	Active  []string `json:"active"`
}

// MessageResponse is one history entry.
type MessageResponse struct {
	From string `json:"from"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// AddMember puts a member on the room roster.
func (h *RoomHandlers) AddMember(c *gin.Context) {
	roomID := c.Param("id")

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "member is required"})
		return
	}

	ctx, cancel := h.requestCtx(c)
	defer cancel()

	room := h.reg.GetOrCreate(roomID)
	if err := room.AddMember(ctx, req.Member); err != nil {
		h.writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": roomID, "member": req.Member})
}

// RemoveMember revokes membership; the member's live connections are closed.
func (h *RoomHandlers) RemoveMember(c *gin.Context) {
	roomID := c.Param("id")
	member := c.Param("member")

	ctx, cancel := h.requestCtx(c)
	defer cancel()

	room, ok := h.reg.Lookup(roomID)
	if !ok {
		// Nothing live to revoke; drop the durable roster entry directly.
		if err := h.gw.RecordMembershipChange(ctx, roomID, member, false); err != nil {
			h.log.Warn().Err(err).Str("room", roomID).Msg("record membership change")
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable"})
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	if err := room.RemoveMember(ctx, member); err != nil {
		h.writeCoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Presence reports the roster and active members of a live room.
func (h *RoomHandlers) Presence(c *gin.Context) {
	roomID := c.Param("id")

	room, ok := h.reg.Lookup(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room is not live"})
		return
	}

	c.JSON(http.StatusOK, PresenceResponse{
		Room:    roomID,
		Members: room.Members(),
		Active:  room.Active(),
	})
}

// Messages returns recent history for the room, oldest first.
func (h *RoomHandlers) Messages(c *gin.Context) {
	roomID := c.Param("id")

	ctx, cancel := h.requestCtx(c)
	defer cancel()

	msgs, err := h.gw.ListMessages(ctx, roomID, 50)
	if err != nil {
		h.log.Warn().Err(err).Str("room", roomID).Msg("list messages")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable"})
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{From: m.Sender, Text: m.Body, TS: m.CreatedAt.Unix()})
	}
	c.JSON(http.StatusOK, gin.H{"room": roomID, "messages": out})
}

func (h *RoomHandlers) requestCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.storageTimeout)
}

func (h *RoomHandlers) writeCoreError(c *gin.Context, err error) {
	if errors.Is(err, core.ErrStorageUnavailable) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable"})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}
