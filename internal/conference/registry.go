package conference

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/vovakirdan/wiregate/internal/eventsocket"
)

// Bridge is the event socket connection the registry listens on.
type Bridge interface {
	Notices() <-chan eventsocket.Notice
	Send(cmd string) error
}

// Commander runs one fire-and-forget bridge API command.
type Commander interface {
	Exec(ctx context.Context, command string) error
}

// CommanderFunc adapts a function to Commander.
type CommanderFunc func(ctx context.Context, command string) error

func (f CommanderFunc) Exec(ctx context.Context, command string) error {
	return f(ctx, command)
}

// Registry holds the live conferences and who is monitoring them.
// A membership change and the broadcast it causes happen under one lock.
type Registry struct {
	mu       sync.Mutex
	confs    map[string]*Conference
	monitors map[string]map[*Monitor]struct{}

	exec Commander
	log  *zerolog.Logger
	wg   sync.WaitGroup
}

// NewRegistry creates an empty registry. exec may be nil when moderation is disabled.
func NewRegistry(exec Commander, logger *zerolog.Logger) *Registry {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	l := logger.With().Str("component", "conference").Logger()
	return &Registry{
		confs:    make(map[string]*Conference),
		monitors: make(map[string]map[*Monitor]struct{}),
		exec:     exec,
		log:      &l,
	}
}

// Run consumes bridge notices until the bridge closes or ctx is done.
// Every (re)connect subscribes to conference maintenance events.
func (r *Registry) Run(ctx context.Context, bridge Bridge) {
	notices := bridge.Notices()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			switch n.Kind {
			case eventsocket.NoticeConnect:
				if err := bridge.Send("event json CUSTOM " + MaintenanceSubclass); err != nil {
					r.log.Warn().Err(err).Msg("failed to subscribe to conference events")
				}
			case eventsocket.NoticeEvent:
				r.HandleEvent(n.Event)
			case eventsocket.NoticeClose:
				return
			}
		}
	}
}

func fsBool(v gjson.Result) bool {
	return v.String() == "true"
}

// HandleEvent applies one decoded bridge event. Events of other subclasses are ignored.
func (r *Registry) HandleEvent(ev gjson.Result) {
	if ev.Get("Event-Subclass").String() != MaintenanceSubclass {
		return
	}

	name := ev.Get("Conference-Name").String()
	action := ev.Get("Action").String()
	cid := ev.Get("Caller-Caller-ID-Number").String()
	line := name + "@" + ev.Get("Conference-Profile-Name").String() + ": " + action + " " + cid
	if fsBool(ev.Get("Talking")) {
		line += " (Talking " + ev.Get("Energy-Level").String() + ")"
	}
	r.log.Info().Str("conference", name).Str("action", action).Msg(line)

	id := int(ev.Get("Member-ID").Int())

	r.mu.Lock()
	defer r.mu.Unlock()

	switch action {
	case "add-member":
		conf, ok := r.confs[name]
		if !ok {
			conf = newConference(name)
			r.confs[name] = conf
		}
		m := &Member{
			ID:       id,
			Conf:     name,
			CallerID: MaskCallerID(cid),
			Talking:  fsBool(ev.Get("Talking")),
			Muted:    !fsBool(ev.Get("Speak")),
			Energy:   fsBool(ev.Get("Energy-Level")),
		}
		conf.Members[id] = m
		r.broadcast(name, EventMemberJoin, m)
	case "del-member":
		conf, m, ok := r.member(name, id)
		if !ok {
			return
		}
		r.broadcast(name, EventMemberLeave, m)
		delete(conf.Members, id)
		if len(conf.Members) == 0 {
			delete(r.confs, name)
		}
	case "mute-member", "unmute-member", "start-talking", "stop-talking":
		_, m, ok := r.member(name, id)
		if !ok {
			return
		}
		m.Muted = !fsBool(ev.Get("Speak"))
		m.Talking = fsBool(ev.Get("Talking"))
		m.Energy = fsBool(ev.Get("Energy-Level"))
		r.broadcast(name, EventMemberUpdate, m)
	}
}

func (r *Registry) member(conf string, id int) (*Conference, *Member, bool) {
	c, ok := r.confs[conf]
	if !ok {
		return nil, nil, false
	}
	m, ok := c.Members[id]
	if !ok {
		return nil, nil, false
	}
	return c, m, true
}

func (r *Registry) broadcast(conf, kind string, m *Member) {
	cp := *m
	for mon := range r.monitors[conf] {
		if !mon.send(Event{Kind: kind, Member: &cp}) {
			r.log.Warn().Str("monitor_id", mon.ID).Str("conference", conf).Msg("monitor too slow, dropping event")
		}
	}
}

// Start sends the current snapshot of conf to m and subscribes it to updates.
// Unknown conferences produce an empty snapshot.
func (r *Registry) Start(m *Monitor, conf string) error {
	if conf == "" {
		return ErrBadConference
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := newConference(conf)
	if c, ok := r.confs[conf]; ok {
		snap = c.clone()
	}
	m.send(Event{Kind: EventConference, Conference: snap})

	subs, ok := r.monitors[conf]
	if !ok {
		subs = make(map[*Monitor]struct{})
		r.monitors[conf] = subs
	}
	subs[m] = struct{}{}
	m.confs[conf] = struct{}{}
	return nil
}

// Stop unsubscribes m from conf.
func (r *Registry) Stop(m *Monitor, conf string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribe(m, conf)
}

// Detach drops every subscription held by m.
func (r *Registry) Detach(m *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conf := range m.confs {
		r.unsubscribe(m, conf)
	}
}

func (r *Registry) unsubscribe(m *Monitor, conf string) {
	delete(m.confs, conf)
	subs, ok := r.monitors[conf]
	if !ok {
		return
	}
	delete(subs, m)
	if len(subs) == 0 {
		delete(r.monitors, conf)
	}
}

// Control asks the bridge to mute, unmute or kick a member. Only staff may
// moderate, and only members currently in the registry can be targeted. The
// command runs in the background and its outcome is only logged.
func (r *Registry) Control(ctx context.Context, m *Monitor, action, conf string, id int) error {
	if !m.Identity.IsStaff {
		return ErrForbidden
	}
	switch action {
	case ActionMute, ActionUnmute, ActionKick:
	default:
		return fmt.Errorf("%w: %q", ErrBadAction, action)
	}

	r.mu.Lock()
	_, _, ok := r.member(conf, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownMember
	}
	if r.exec == nil {
		r.log.Warn().Str("action", action).Str("conference", conf).Msg("moderation requested but bridge is disabled")
		return nil
	}

	cmd := "conference " + conf + " " + action + " " + strconv.Itoa(id)
	r.log.Info().Str("by", m.Identity.Name).Str("command", cmd).Msg("moderating conference member")

	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.exec.Exec(ctx, cmd); err != nil {
			r.log.Warn().Err(err).Str("command", cmd).Msg("bridge api command failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight moderation commands have finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Conferences returns a copy of every live conference sorted by name.
func (r *Registry) Conferences() []*Conference {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conference, 0, len(r.confs))
	for _, c := range r.confs {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
