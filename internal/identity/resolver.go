package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/store"
)

// Handshake is the connection metadata used to identify a client.
type Handshake struct {
	Cookie        string
	Authorization string
	RemoteAddr    string
}

// HandshakeFromRequest captures the identifying parts of an upgrade request.
func HandshakeFromRequest(r *http.Request) Handshake {
	return Handshake{
		Cookie:        r.Header.Get("Cookie"),
		Authorization: r.Header.Get("Authorization"),
		RemoteAddr:    r.RemoteAddr,
	}
}

// Resolver looks identities up through the session cache and the user store.
type Resolver struct {
	sessions SessionCache
	users    store.UserStore
	tokens   *TokenVerifier
	guests   *Guests
	log      *zerolog.Logger
}

// NewResolver builds a resolver. tokens may be nil to disable bearer tokens.
func NewResolver(sessions SessionCache, users store.UserStore, tokens *TokenVerifier, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		guests:   &Guests{},
		log:      logger,
	}
}

// Resolve returns the authenticated identity or the next anonymous guest.
func (r *Resolver) Resolve(ctx context.Context, hs Handshake) Identity {
	if id, ok := r.Lookup(ctx, hs); ok {
		return id
	}
	return r.guests.Next()
}

// Lookup returns the authenticated identity without consuming a guest name.
// ok is false for anonymous handshakes.
func (r *Resolver) Lookup(ctx context.Context, hs Handshake) (Identity, bool) {
	if token, found := strings.CutPrefix(hs.Authorization, "Bearer "); found && r.tokens != nil {
		id, err := r.tokens.Verify(token)
		if err == nil {
			return id, true
		}
		r.log.Debug().Err(err).Str("remote", hs.RemoteAddr).Msg("bearer token rejected")
	}

	id, err := r.fromSession(ctx, hs.Cookie)
	if err != nil {
		ev := r.log.Debug()
		if !errors.Is(err, ErrNoSession) && !errors.Is(err, ErrSessionMiss) && !errors.Is(err, store.ErrUserNotFound) {
			ev = r.log.Warn()
		}
		ev.Err(err).Str("remote", hs.RemoteAddr).Msg("anonymous connection")
		return Identity{}, false
	}
	return id, true
}

func (r *Resolver) fromSession(ctx context.Context, cookie string) (Identity, error) {
	if r.sessions == nil || r.users == nil {
		return Identity{}, ErrNoSession
	}
	sessionID, err := SessionIDFromCookie(cookie)
	if err != nil {
		return Identity{}, err
	}
	blob, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return Identity{}, err
	}
	userID, err := UserIDFromSession(blob)
	if err != nil {
		return Identity{}, err
	}
	user, err := r.users.GetActiveUser(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: user.Username, IsStaff: user.IsStaff}, nil
}
