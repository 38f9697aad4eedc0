// Package ratelimit throttles actions per source with escalating penalties.
//
// Each source owns a set of windows. An action that trips a window is
// delayed by that window's penalty; penalties queue up behind each other so
// a source firing continuously keeps pushing its own actions further out,
// until the accumulated delay passes MaxDelay and actions are dropped.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxDelay is the flood ceiling: actions that would wait longer are dropped.
	DefaultMaxDelay = 20 * time.Second
	// DefaultSweepEvery is how many Throttle calls pass between idle session sweeps.
	DefaultSweepEvery = 100
)

// Window is one throttling rule.
type Window struct {
	Interval time.Duration
	Max      int
	Penalty  time.Duration
}

// Config configures a Limiter.
type Config struct {
	Windows    []Window
	MaxAge     time.Duration
	MaxDelay   time.Duration
	SweepEvery int
	Logging    bool
}

// Decision reports what Throttle did with an action.
type Decision struct {
	Delay   time.Duration
	Dropped bool
}

type window struct {
	Window
	start time.Time
	count int
}

type session struct {
	lastEvent       time.Time
	lastPenaltyEnds time.Time
	windows         []window
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg Config
	log *zerolog.Logger

	now      func() time.Time
	schedule func(time.Duration, func())

	mu         sync.Mutex
	sessions   map[string]*session
	sweepCount int
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithScheduler replaces time.AfterFunc for delayed actions.
func WithScheduler(schedule func(time.Duration, func())) Option {
	return func(l *Limiter) { l.schedule = schedule }
}

// New builds a limiter.
func New(cfg Config, logger *zerolog.Logger, opts ...Option) *Limiter {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	l := &Limiter{
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Throttle runs action now, runs it later, or drops it, depending on how
// busy key has been. An immediate action runs synchronously on the caller's
// goroutine; a delayed one runs on a timer goroutine.
func (l *Limiter) Throttle(key string, action func()) Decision {
	d := l.decide(key)
	switch {
	case d.Dropped:
		if l.cfg.Logging {
			l.log.Warn().Str("source", key).Dur("delay", d.Delay).Msg("flood detected, dropping action")
		}
	case d.Delay > 0:
		if l.cfg.Logging {
			l.log.Info().Str("source", key).Dur("delay", d.Delay).Msg("action throttled")
		}
		l.schedule(d.Delay, action)
	default:
		action()
	}
	return d
}

func (l *Limiter) decide(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweep(now)

	s := l.session(key, now)
	s.lastEvent = now

	var delay time.Duration
	for i := range s.windows {
		w := &s.windows[i]
		if now.After(w.start.Add(w.Interval)) {
			w.start = now
			w.count = 1
			continue
		}
		w.count++
		if w.count >= w.Max {
			delay = max(delay, w.Penalty)
		}
	}
	if delay <= 0 {
		return Decision{}
	}

	if s.lastPenaltyEnds.After(now) {
		delay += s.lastPenaltyEnds.Sub(now)
	}
	if delay > l.cfg.MaxDelay {
		return Decision{Delay: delay, Dropped: true}
	}
	s.lastPenaltyEnds = now.Add(delay)
	return Decision{Delay: delay}
}

func (l *Limiter) session(key string, now time.Time) *session {
	if s, ok := l.sessions[key]; ok {
		return s
	}
	s := &session{
		lastEvent:       now,
		lastPenaltyEnds: now,
		windows:         make([]window, len(l.cfg.Windows)),
	}
	for i, w := range l.cfg.Windows {
		s.windows[i] = window{Window: w, start: now}
	}
	l.sessions[key] = s
	return s
}

func (l *Limiter) maybeSweep(now time.Time) {
	l.sweepCount++
	if l.sweepCount < l.cfg.SweepEvery {
		return
	}
	l.sweepCount = 0
	if l.cfg.MaxAge <= 0 {
		return
	}
	for key, s := range l.sessions {
		if now.Sub(s.lastEvent) >= l.cfg.MaxAge {
			delete(l.sessions, key)
		}
	}
}

// Sessions returns the number of tracked sources.
func (l *Limiter) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
