package core

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wiregate/internal/identity"
)

// Message is a chat line as fanned out to room members. Messages are never stored.
type Message struct {
	Room      string
	From      identity.Identity
	Text      string
	Emote     bool
	CreatedAt time.Time
}

// Notification is an out-of-band event published to a subscription channel.
type Notification struct {
	Type    string
	Dest    string
	Payload json.RawMessage
}
