package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client. The room is
// fixed at connect time, so inbound frames only carry per-frame data.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeMsg   = "msg"
	InboundTypeLeave = "leave"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameMessage  = "message"
	EventNamePresence = "presence"
)

// MsgData is a chat message from the client.
type MsgData struct {
	Text string `json:"text"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage carries a chat message delivered to the client.
type EventMessage struct {
	Room string `json:"room"`
	From string `json:"from"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// EventPresence notifies that a member became active or inactive in a room.
type EventPresence struct {
	Room   string `json:"room"`
	Member string `json:"member"`
	Active bool   `json:"active"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
