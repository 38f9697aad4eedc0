package core

import (
	"regexp"

	"github.com/vovakirdan/wiregate/internal/identity"
)

const (
	// MaxRoomNameLen caps room names.
	MaxRoomNameLen = 20
	// MaxMessageLen caps chat message text, in characters.
	MaxMessageLen = 200
)

var roomNameRe = regexp.MustCompile(`^[a-zA-Z][-_a-zA-Z0-9]*$`)

// ValidRoomName reports whether name is an acceptable room name.
func ValidRoomName(name string) bool {
	return len(name) <= MaxRoomNameLen && roomNameRe.MatchString(name)
}

// Room groups clients subscribed to the same channel, keyed by identity name.
// Rooms are created on first join and kept after their last member leaves.
type Room struct {
	Name    string
	members map[string]*Client
}

// NewRoom constructs a room with no clients.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		members: make(map[string]*Client),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.members[c.Name()]; exists {
		return false
	}
	r.members[c.Name()] = c
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if cur, exists := r.members[c.Name()]; !exists || cur != c {
		return false
	}
	delete(r.members, c.Name())
	return true
}

// Has reports whether c is the room member registered under its name.
func (r *Room) Has(c *Client) bool {
	return r.members[c.Name()] == c
}

// Snapshot copies the current membership.
func (r *Room) Snapshot() map[string]identity.Identity {
	users := make(map[string]identity.Identity, len(r.members))
	for name, c := range r.members {
		users[name] = c.Identity
	}
	return users
}

// Broadcast sends an event to all clients in the room except the given one (nil for all).
func (r *Room) Broadcast(event *Event, except *Client) {
	for _, client := range r.members {
		if client == except {
			continue
		}
		client.send(event)
	}
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.members)
}
