// Package notify relays notifications from other processes to connected
// clients. Producers send one JSON datagram per notification; the relay
// validates it and publishes it to the destination channel.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/core"
)

// MaxDatagram is the largest datagram the relay reads.
const MaxDatagram = 64 << 10

var (
	typeRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)+$`)
	destRe = regexp.MustCompile(`^[-_.@+a-zA-Z0-9]{1,64}$`)
)

var (
	ErrInvalidPayload = errors.New("invalid notification payload")
	ErrInvalidType    = errors.New("invalid notification type")
	ErrInvalidDest    = errors.New("invalid notification destination")
)

// Payload is the datagram body.
type Payload struct {
	Type string          `json:"type"`
	Dest string          `json:"dest"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// Validate checks the type and destination shapes. Types are dotted
// namespaces such as "forum.reply"; destinations are identity names or "all".
func (p Payload) Validate() error {
	if !typeRe.MatchString(p.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if !destRe.MatchString(p.Dest) {
		return fmt.Errorf("%w: %q", ErrInvalidDest, p.Dest)
	}
	return nil
}

// Parse decodes and validates one datagram.
func Parse(data []byte) (core.Notification, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return core.Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return core.Notification{}, err
	}
	return core.Notification{Type: p.Type, Dest: p.Dest, Payload: p.Msg}, nil
}

// Publisher accepts validated notifications.
type Publisher interface {
	Publish(n core.Notification) error
}

// Relay reads notification datagrams from a UDP socket.
type Relay struct {
	conn net.PacketConn
	pub  Publisher
	log  *zerolog.Logger
}

// Listen binds the relay socket.
func Listen(addr string, pub Publisher, logger *zerolog.Logger) (*Relay, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	l := logger.With().Str("component", "notify").Logger()
	return &Relay{conn: conn, pub: pub, log: &l}, nil
}

// Addr is the bound address.
func (r *Relay) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Serve handles datagrams until ctx is cancelled. Bad datagrams are logged
// and dropped.
func (r *Relay) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()
	defer r.conn.Close()

	r.log.Info().Str("addr", r.Addr().String()).Msg("notification relay listening")
	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}
		r.handle(buf[:n], from)
	}
}

func (r *Relay) handle(data []byte, from net.Addr) {
	n, err := Parse(data)
	if err != nil {
		r.log.Warn().Err(err).Str("from", from.String()).Int("bytes", len(data)).Msg("dropping notification")
		return
	}
	if err := r.pub.Publish(n); err != nil {
		r.log.Error().Err(err).Str("type", n.Type).Str("dest", n.Dest).Msg("publish notification failed")
		return
	}
	r.log.Debug().Str("type", n.Type).Str("dest", n.Dest).Msg("notification received")
}

// Send delivers one notification datagram to a relay at addr.
func Send(ctx context.Context, addr string, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
