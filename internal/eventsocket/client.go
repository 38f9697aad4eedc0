// Package eventsocket is a client for the FreeSWITCH mod_event_socket protocol.
//
// A Client keeps one inbound connection alive: it dials, authenticates,
// reports events on its Notices channel and redials after a fixed delay
// whenever the connection drops for any reason other than its context being
// cancelled.
package eventsocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultLoginTimeout   = time.Second
	DefaultAPITimeout     = time.Second
)

var (
	ErrNotConnected     = errors.New("event socket not connected")
	ErrUnexpectedFrame  = errors.New("unexpected frame")
	ErrAuthFailed       = errors.New("event socket authentication failed")
	ErrLoginTimeout     = errors.New("event socket login timed out")
	ErrDisconnectNotice = errors.New("disconnect notice received")
)

// Config describes how to reach the event socket.
type Config struct {
	Host           string
	Port           int
	Password       string
	ReconnectDelay time.Duration
	LoginTimeout   time.Duration
	APITimeout     time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.APITimeout <= 0 {
		c.APITimeout = DefaultAPITimeout
	}
	return c
}

// State is the connection's position in the login handshake.
type State int

const (
	StatePreAuth State = iota
	StateAuth
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StatePreAuth:
		return "pre_auth"
	case StateAuth:
		return "auth"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// NoticeKind tells consumers what happened on the socket.
type NoticeKind int

const (
	// NoticeConnect fires after every successful login.
	NoticeConnect NoticeKind = iota
	// NoticeEvent carries an event frame.
	NoticeEvent
	// NoticeMessage carries any other frame received once established.
	NoticeMessage
	// NoticeClose is the last notice, sent when Run returns.
	NoticeClose
)

// Notice is delivered on Client.Notices.
type Notice struct {
	Kind        NoticeKind
	ContentType string
	Event       gjson.Result
	Frame       *Frame
}

// Client is a reconnecting event socket client.
type Client struct {
	cfg     Config
	log     *zerolog.Logger
	notices chan Notice
	dialer  net.Dialer

	mu   sync.Mutex
	conn net.Conn
}

// New builds a client. Call Run to connect.
func New(cfg Config, logger *zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	l := logger.With().Str("component", "eventsocket").Str("addr", cfg.addr()).Logger()
	return &Client{
		cfg:     cfg,
		log:     &l,
		notices: make(chan Notice, 64),
	}
}

// Notices streams socket activity. It is closed when Run returns.
func (c *Client) Notices() <-chan Notice {
	return c.notices
}

// Send writes a command on the live connection.
func (c *Client) Send(cmd string) error {
	return c.write(cmd)
}

// Run keeps the connection up until ctx is cancelled and may be called once.
// Cancelling ctx is the only intentional close: it ends Run with a
// NoticeClose instead of a redial.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.notices)
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			break
		}
		ev := c.log.Warn()
		if errors.Is(err, ErrDisconnectNotice) {
			ev = c.log.Info()
		}
		ev.Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("event socket closed, reconnecting")

		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	c.log.Info().Msg("event socket closed")
	select {
	case c.notices <- Notice{Kind: NoticeClose}:
	default:
	}
	return nil
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) write(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return writeCommand(c.conn, cmd)
}

func (c *Client) emit(ctx context.Context, n Notice) {
	select {
	case c.notices <- n:
	case <-ctx.Done():
	}
}

// serve runs one connection from dial to close.
func (c *Client) serve(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	c.log.Info().Msg("connected")

	c.setConn(conn)
	defer c.setConn(nil)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var loginExpired atomic.Bool
	s := &session{
		client: c,
		ctx:    ctx,
		state:  StatePreAuth,
		loginTimer: time.AfterFunc(c.cfg.LoginTimeout, func() {
			loginExpired.Store(true)
			conn.Close()
		}),
	}
	defer s.loginTimer.Stop()

	chunk := make([]byte, 4096)
	for {
		n, readErr := conn.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
			if err := s.drain(); err != nil {
				return err
			}
		}
		if readErr != nil {
			switch {
			case loginExpired.Load():
				return ErrLoginTimeout
			case errors.Is(readErr, io.EOF):
				return errors.New("remote closed connection")
			default:
				return fmt.Errorf("read: %w", readErr)
			}
		}
	}
}

// session is the per-connection state machine.
type session struct {
	client     *Client
	ctx        context.Context
	state      State
	loginTimer *time.Timer
	buf        []byte
}

type stateFunc func(*session, *Frame) error

var transitions = [...]stateFunc{
	StatePreAuth:     (*session).onPreAuth,
	StateAuth:        (*session).onAuth,
	StateEstablished: (*session).onEstablished,
}

// drain handles every complete frame in the buffer and keeps the partial tail.
func (s *session) drain() error {
	for {
		f, n, err := ParseFrame(s.buf)
		if errors.Is(err, ErrIncomplete) {
			return nil
		}
		if err != nil {
			return err
		}
		s.buf = s.buf[n:]
		if err := s.handle(f); err != nil {
			return err
		}
	}
}

func (s *session) handle(f *Frame) error {
	if f.Is(ContentTypeDisconnectNotice) {
		return ErrDisconnectNotice
	}
	return transitions[s.state](s, f)
}

func (s *session) setState(next State) {
	s.client.log.Debug().Stringer("from", s.state).Stringer("to", next).Msg("state change")
	s.state = next
}

func (s *session) onPreAuth(f *Frame) error {
	if !f.Is(ContentTypeAuthRequest) {
		return fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedFrame, ContentTypeAuthRequest, f.ContentType())
	}
	if err := s.client.write("auth " + s.client.cfg.Password); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	s.setState(StateAuth)
	return nil
}

func (s *session) onAuth(f *Frame) error {
	if !f.IsOK() {
		return fmt.Errorf("%w: %s", ErrAuthFailed, f.Header("reply-text"))
	}
	s.loginTimer.Stop()
	s.setState(StateEstablished)
	s.client.emit(s.ctx, Notice{Kind: NoticeConnect})
	return nil
}

func (s *session) onEstablished(f *Frame) error {
	if f.IsEvent() {
		s.client.emit(s.ctx, Notice{Kind: NoticeEvent, ContentType: f.ContentType(), Event: f.Event, Frame: f})
		return nil
	}
	s.client.emit(s.ctx, Notice{Kind: NoticeMessage, ContentType: f.ContentType(), Frame: f})
	return nil
}

func writeCommand(w io.Writer, cmd string) error {
	_, err := io.WriteString(w, cmd+"\n\n")
	return err
}
