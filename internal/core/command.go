package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendRoomMessage delivers a chat message to room participants.
	CommandSendRoomMessage CommandKind = iota
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandKick removes another user from a room. Staff only.
	CommandKick
	// CommandPing asks for a pong.
	CommandPing
)

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Room    string
	Target  string // CommandKick
	Message Message
}
