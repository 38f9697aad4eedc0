package proto

import (
	"encoding/json"

	"github.com/vovakirdan/wiregate/internal/identity"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	InboundTypeJoin  = "join"
	InboundTypeLeave = "leave"
	InboundTypeMsg   = "msg"
	InboundTypeKick  = "kick"
	InboundTypePing  = "ping"

	InboundTypeMonitorStart = "monitor start"
	InboundTypeMonitorStop  = "monitor stop"
	InboundTypeMute         = "mute"
	InboundTypeUnmute       = "unmute"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Outbound event names.
const (
	EventJoinAck      = "join_ack"
	EventJoin         = "join"
	EventLeaveAck     = "leave_ack"
	EventLeave        = "leave"
	EventMsg          = "msg"
	EventKicked       = "kicked"
	EventDisconnected = "disconnected"
	EventPong         = "pong"

	EventConference   = "conference"
	EventMemberJoin   = "member join"
	EventMemberLeave  = "member leave"
	EventMemberUpdate = "member update"
)

// RoomData names a room for join and leave.
type RoomData struct {
	Room string `json:"room"`
}

// MsgData is a chat message from the client.
type MsgData struct {
	Room  string `json:"room"`
	Text  string `json:"text"`
	Emote bool   `json:"emote"`
}

// KickData asks to remove a user from a room.
type KickData struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// ConfData names a conference to monitor.
type ConfData struct {
	Conf string `json:"conf"`
}

// MemberData targets one conference member for moderation.
type MemberData struct {
	Conf string `json:"conf"`
	ID   int    `json:"id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventJoinAckData confirms a join with the room's member snapshot.
type EventJoinAckData struct {
	Room  string                       `json:"room"`
	User  identity.Identity            `json:"user"`
	Users map[string]identity.Identity `json:"users"`
}

// EventPresenceData reports a user entering or leaving a room.
type EventPresenceData struct {
	Room string            `json:"room"`
	User identity.Identity `json:"user"`
}

// EventMsgData is a chat line.
type EventMsgData struct {
	Room  string            `json:"room"`
	User  identity.Identity `json:"user"`
	Text  string            `json:"text"`
	Emote bool              `json:"emote"`
	TS    int64             `json:"ts"`
}

// EventKickedData tells a user who removed them from which room.
type EventKickedData struct {
	Room string            `json:"room"`
	User identity.Identity `json:"user"`
	By   string            `json:"by"`
}

// EventDisconnectedData is the last message on a connection.
type EventDisconnectedData struct {
	User identity.Identity `json:"user"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Room string `json:"room,omitempty"`
}
