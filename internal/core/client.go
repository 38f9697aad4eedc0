package core

import (
	"sync"

	"github.com/vovakirdan/wiregate/internal/identity"
)

const (
	commandBuffer = 16
	eventBuffer   = 64
)

// Client is a chat participant as seen by the core layer.
type Client struct {
	ID       string
	Identity identity.Identity
	Addr     string
	Commands chan *Command
	Events   chan *Event

	// Owned by the hub goroutine.
	rooms map[string]struct{}
	dead  bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, ident identity.Identity, addr string) *Client {
	if ident.Name == "" {
		ident.Name = id
	}
	return &Client{
		ID:       id,
		Identity: ident,
		Addr:     addr,
		Commands: make(chan *Command, commandBuffer),
		Events:   make(chan *Event, eventBuffer),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Name is the identity name rooms and presence are keyed by.
func (c *Client) Name() string {
	return c.Identity.Name
}

// Done is closed once the hub has torn the client down, either because the
// transport unregistered it or because a newer connection evicted it.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Submit queues a command for the hub. It reports false once the client is torn down.
func (c *Client) Submit(cmd *Command) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Commands <- cmd:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
