package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/tidwall/gjson"
)

var (
	// ErrNoSession is returned when the handshake carries no session cookie.
	ErrNoSession = errors.New("session id not found")
	// ErrSessionMiss is returned when the cache has no entry for the session.
	ErrSessionMiss = errors.New("session not found")
	// ErrCorruptSession is returned when the cached blob is not a JSON object
	// with a usable user id.
	ErrCorruptSession = errors.New("corrupt session data")
)

var sessionCookieRe = regexp.MustCompile(`sessionid=([0-9a-f]+)`)

// authUserField is the key the web application stores the logged in user id under.
const authUserField = "_auth_user_id"

// SessionCache is the read side of the web application's session cache.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) ([]byte, error)
}

// SessionIDFromCookie extracts the hex session id from a raw Cookie header.
func SessionIDFromCookie(cookie string) (string, error) {
	m := sessionCookieRe.FindStringSubmatch(cookie)
	if m == nil {
		return "", ErrNoSession
	}
	return m[1], nil
}

// UserIDFromSession pulls the authenticated user id out of a session blob.
func UserIDFromSession(blob []byte) (int64, error) {
	if !gjson.ValidBytes(blob) {
		return 0, fmt.Errorf("%w: invalid json", ErrCorruptSession)
	}
	doc := gjson.ParseBytes(blob)
	if !doc.IsObject() {
		return 0, fmt.Errorf("%w: not an object", ErrCorruptSession)
	}
	field := doc.Get(authUserField)
	if !field.Exists() {
		return 0, fmt.Errorf("%w: no %s", ErrCorruptSession, authUserField)
	}
	id := field.Int()
	if id <= 0 {
		return 0, fmt.Errorf("%w: bad user id %q", ErrCorruptSession, field.Raw)
	}
	return id, nil
}

// MemcacheSessions reads JSON session blobs from memcached.
type MemcacheSessions struct {
	client *memcache.Client
}

// NewMemcacheSessions connects to the given memcached servers.
func NewMemcacheSessions(servers []string, timeout time.Duration) *MemcacheSessions {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &MemcacheSessions{client: client}
}

// Get returns the raw session blob.
func (m *MemcacheSessions) Get(_ context.Context, sessionID string) ([]byte, error) {
	item, err := m.client.Get(sessionID)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrSessionMiss
		}
		return nil, fmt.Errorf("memcache get: %w", err)
	}
	return item.Value, nil
}
