package core

import "github.com/vovakirdan/wiregate/internal/identity"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage notifies every room member, sender included, about a chat message.
	EventRoomMessage EventKind = iota
	// EventJoinAck confirms a join to the joining client with a member snapshot.
	EventJoinAck
	// EventUserJoined notifies the other members about a user joining a room.
	EventUserJoined
	// EventLeaveAck confirms a leave to the leaving client.
	EventLeaveAck
	// EventUserLeft notifies the other members about a user leaving a room.
	EventUserLeft
	// EventKicked tells a client it was removed from a room by staff.
	EventKicked
	// EventDisconnected is the last event a torn down client receives.
	EventDisconnected
	// EventPong answers CommandPing.
	EventPong
	// EventNotification relays an out-of-band notification.
	EventNotification
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind         EventKind
	Room         string
	User         identity.Identity
	Users        map[string]identity.Identity // EventJoinAck
	By           string                       // EventKicked
	Message      Message
	Notification *Notification
	Error        *CoreError
}
