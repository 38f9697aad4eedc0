// Package identity turns connection handshakes into chat identities.
//
// Resolution never fails: a missing cookie, a cache miss, a corrupt session
// blob or an unknown user all degrade to an anonymous guest.
package identity

import (
	"strconv"
	"sync/atomic"
)

// Identity is the user-facing name plus the staff privilege flag of a connection.
type Identity struct {
	Name    string `json:"name"`
	IsStaff bool   `json:"is_staff"`
}

// Guests hands out anonymous names. Values are never reused for the lifetime
// of the process.
type Guests struct {
	counter atomic.Uint64
}

// Next returns the next anonymous identity: anon1, anon2, ...
func (g *Guests) Next() Identity {
	n := g.counter.Add(1)
	return Identity{Name: "anon" + strconv.FormatUint(n, 10)}
}
