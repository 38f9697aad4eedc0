package core

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// BroadcastChannel is the notification channel every client subscribes to.
const BroadcastChannel = "all"

type envelope struct {
	client *Client
	cmd    *Command
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Hub owns rooms, the presence directory and notification subscriptions.
// All of that state is touched only from the Run goroutine, so a membership
// change and the broadcast it triggers are never interleaved with another.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	commands   chan envelope
	publish    chan Notification
	queries    chan func()
	stopped    chan struct{}

	clients  map[*Client]struct{}
	rooms    map[string]*Room
	presence map[string]*Client
	channels map[string]map[*Client]struct{}

	log *zerolog.Logger
	now func() time.Time
}

// NewHub creates a new chat hub instance.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan envelope, 256),
		publish:    make(chan Notification, 64),
		queries:    make(chan func()),
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
		presence:   make(map[string]*Client),
		channels:   make(map[string]map[*Client]struct{}),
		log:        logger,
		now:        time.Now,
	}
}

// Run processes hub traffic until ctx is cancelled. Every connected client
// is torn down on exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case c := <-h.register:
			h.handleRegister(ctx, c)
		case c := <-h.unregister:
			h.disconnect(c)
		case env := <-h.commands:
			h.dispatch(env)
		case n := <-h.publish:
			h.handlePublish(n)
		case q := <-h.queries:
			q()
		case <-ctx.Done():
			for c := range h.clients {
				h.disconnect(c)
			}
			return
		}
	}
}

// RegisterClient adds a client, evicting any live client with the same identity name first.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
		c.close()
	}
}

// UnregisterClient tears a client down. Safe to call more than once.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Publish queues a notification for delivery to its destination channel.
func (h *Hub) Publish(n Notification) error {
	select {
	case h.publish <- n:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	}
}

// Rooms returns a snapshot of every room, empty ones included.
func (h *Hub) Rooms(ctx context.Context) ([]RoomInfo, error) {
	result := make(chan []RoomInfo, 1)
	q := func() {
		infos := make([]RoomInfo, 0, len(h.rooms))
		for _, r := range h.rooms {
			members := make([]string, 0, r.Len())
			for name := range r.members {
				members = append(members, name)
			}
			sort.Strings(members)
			infos = append(infos, RoomInfo{Name: r.Name, Members: members})
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
		result <- infos
	}
	select {
	case h.queries <- q:
	case <-h.stopped:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-result, nil
}

func (h *Hub) handleRegister(ctx context.Context, c *Client) {
	if old, ok := h.presence[c.Name()]; ok && old != c {
		h.log.Info().Str("user", c.Name()).Str("old_client", old.ID).Str("client_id", c.ID).Msg("evicting previous connection")
		h.disconnect(old)
	}

	h.clients[c] = struct{}{}
	h.presence[c.Name()] = c
	h.subscribe(c, c.Name())
	h.subscribe(c, BroadcastChannel)

	go h.pump(ctx, c)
}

// pump forwards a client's commands into the hub loop.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- envelope{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// dispatch is the per-connection fault boundary: a panic while handling one
// client's command tears down that client only.
func (h *Hub) dispatch(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("client_id", env.client.ID).
				Str("user", env.client.Name()).
				Str("panic", fmt.Sprint(r)).
				Msg("command handler failed, disconnecting client")
			h.disconnect(env.client)
		}
	}()

	c := env.client
	if c.dead {
		return
	}
	cmd := env.cmd
	switch cmd.Kind {
	case CommandJoinRoom:
		h.join(c, cmd.Room)
	case CommandSendRoomMessage:
		h.message(c, cmd.Room, cmd.Message)
	case CommandLeaveRoom:
		h.leave(c, cmd.Room)
	case CommandKick:
		h.kick(c, cmd.Room, cmd.Target)
	case CommandPing:
		c.send(&Event{Kind: EventPong})
	default:
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}

func (h *Hub) join(c *Client, name string) {
	if _, ok := c.rooms[name]; ok {
		c.send(&Event{Kind: EventError, Room: name, Error: coreError(ErrCodeAlreadyJoined, ErrAlreadyJoined.Error())})
		return
	}
	if !ValidRoomName(name) {
		c.send(&Event{Kind: EventError, Room: name, Error: coreError(ErrCodeBadRoomName, "invalid room name")})
		return
	}

	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	c.rooms[name] = struct{}{}
	room.AddClient(c)

	c.send(&Event{Kind: EventJoinAck, Room: name, User: c.Identity, Users: room.Snapshot()})
	room.Broadcast(&Event{Kind: EventUserJoined, Room: name, User: c.Identity}, c)
}

func (h *Hub) message(c *Client, name string, msg Message) {
	room, ok := h.memberRoom(c, name)
	if !ok {
		c.send(&Event{Kind: EventError, Room: name, Error: coreError(ErrCodeNotInRoom, ErrNotInRoom.Error())})
		return
	}
	if msg.Text == "" {
		c.send(&Event{Kind: EventError, Room: name, Error: coreError(ErrCodeBadRequest, "text is required")})
		return
	}
	if utf8.RuneCountInString(msg.Text) > MaxMessageLen {
		c.send(&Event{Kind: EventError, Room: name, Error: coreError(ErrCodeTextTooLong, "text is too long")})
		return
	}

	msg.Room = name
	msg.From = c.Identity
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = h.now()
	}
	room.Broadcast(&Event{Kind: EventRoomMessage, Room: name, User: c.Identity, Message: msg}, nil)
}

func (h *Hub) leave(c *Client, name string) {
	room, ok := h.memberRoom(c, name)
	if !ok {
		c.send(&Event{Kind: EventError, Room: name, Error: coreError(ErrCodeNotInRoom, ErrNotInRoom.Error())})
		return
	}
	room.Broadcast(&Event{Kind: EventUserLeft, Room: name, User: c.Identity}, c)
	c.send(&Event{Kind: EventLeaveAck, Room: name, User: c.Identity})
	room.RemoveClient(c)
	delete(c.rooms, name)
}

// kick is a silent no-op unless the caller is staff and the target is a
// current member of the room.
func (h *Hub) kick(c *Client, name, target string) {
	if !c.Identity.IsStaff {
		h.log.Warn().Str("user", c.Name()).Str("target", target).Str("room", name).Msg("kick from non-staff ignored")
		return
	}
	victim, ok := h.presence[target]
	if !ok {
		return
	}
	if _, member := h.memberRoom(victim, name); !member {
		return
	}
	h.log.Info().Str("by", c.Name()).Str("target", target).Str("room", name).Msg("kicking user")
	victim.send(&Event{Kind: EventKicked, Room: name, User: victim.Identity, By: c.Name()})
	h.leave(victim, name)
}

func (h *Hub) memberRoom(c *Client, name string) (*Room, bool) {
	if _, ok := c.rooms[name]; !ok {
		return nil, false
	}
	room, ok := h.rooms[name]
	if !ok || !room.Has(c) {
		return nil, false
	}
	return room, true
}

// disconnect runs at most once per client.
func (h *Hub) disconnect(c *Client) {
	if c.dead {
		return
	}
	c.dead = true
	c.send(&Event{Kind: EventDisconnected, User: c.Identity})

	for name := range c.rooms {
		room, ok := h.rooms[name]
		if !ok {
			continue
		}
		room.Broadcast(&Event{Kind: EventUserLeft, Room: name, User: c.Identity}, c)
		room.RemoveClient(c)
	}
	c.rooms = make(map[string]struct{})

	if h.presence[c.Name()] == c {
		delete(h.presence, c.Name())
	}
	h.unsubscribeAll(c)
	delete(h.clients, c)
	c.close()
}

func (h *Hub) subscribe(c *Client, channel string) {
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) unsubscribeAll(c *Client) {
	for _, channel := range []string{c.Name(), BroadcastChannel} {
		subs, ok := h.channels[channel]
		if !ok {
			continue
		}
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) handlePublish(n Notification) {
	subs := h.channels[n.Dest]
	for c := range subs {
		c.send(&Event{Kind: EventNotification, Notification: &n})
	}
	h.log.Debug().Str("type", n.Type).Str("dest", n.Dest).Int("recipients", len(subs)).Msg("notification relayed")
}
