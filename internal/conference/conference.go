// Package conference mirrors FreeSWITCH conference membership into monitor
// subscriptions and turns staff moderation requests into bridge API calls.
package conference

import (
	"errors"

	"github.com/vovakirdan/wiregate/internal/identity"
)

// MaintenanceSubclass is the only event subclass the registry consumes.
const MaintenanceSubclass = "conference::maintenance"

// Event kinds delivered to monitors.
const (
	EventConference   = "conference"
	EventMemberJoin   = "member join"
	EventMemberLeave  = "member leave"
	EventMemberUpdate = "member update"
)

// Moderation actions staff monitors may request.
const (
	ActionMute   = "mute"
	ActionUnmute = "unmute"
	ActionKick   = "kick"
)

var (
	ErrForbidden     = errors.New("staff only")
	ErrUnknownMember = errors.New("unknown conference member")
	ErrBadAction     = errors.New("unknown moderation action")
	ErrBadConference = errors.New("conference name is required")
)

// Member is one call leg in a conference.
type Member struct {
	ID       int    `json:"id"`
	Conf     string `json:"conf"`
	CallerID string `json:"cid"`
	Talking  bool   `json:"talking"`
	Muted    bool   `json:"muted"`
	Energy   bool   `json:"energy"`
}

// Conference is a named set of members keyed by member id.
type Conference struct {
	Name    string          `json:"name"`
	Members map[int]*Member `json:"members"`
}

func newConference(name string) *Conference {
	return &Conference{Name: name, Members: make(map[int]*Member)}
}

func (c *Conference) clone() *Conference {
	out := newConference(c.Name)
	for id, m := range c.Members {
		cp := *m
		out.Members[id] = &cp
	}
	return out
}

// Event is a notification for monitors of one conference.
type Event struct {
	Kind       string
	Conference *Conference
	Member     *Member
}

const monitorBuffer = 64

// Monitor is a connection watching zero or more conferences.
type Monitor struct {
	ID       string
	Identity identity.Identity
	Events   chan Event

	// Guarded by the registry lock.
	confs map[string]struct{}
}

// NewMonitor builds a monitor with a buffered event channel.
func NewMonitor(id string, ident identity.Identity) *Monitor {
	return &Monitor{
		ID:       id,
		Identity: ident,
		Events:   make(chan Event, monitorBuffer),
		confs:    make(map[string]struct{}),
	}
}

func (m *Monitor) send(ev Event) bool {
	select {
	case m.Events <- ev:
		return true
	default:
		return false
	}
}
