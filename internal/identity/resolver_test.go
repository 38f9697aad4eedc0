package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	wglog "github.com/vovakirdan/wiregate/internal/log"
	"github.com/vovakirdan/wiregate/internal/store"
)

type fakeSessions map[string]string

func (f fakeSessions) Get(_ context.Context, id string) ([]byte, error) {
	blob, ok := f[id]
	if !ok {
		return nil, ErrSessionMiss
	}
	return []byte(blob), nil
}

type fakeUsers map[int64]store.User

func (f fakeUsers) GetActiveUser(_ context.Context, id int64) (*store.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &u, nil
}

func (f fakeUsers) Close() error { return nil }

func newTestResolver(tokens *TokenVerifier) *Resolver {
	sessions := fakeSessions{
		"abc123": `{"_auth_user_id": 7}`,
		"def456": `{"_auth_user_id": "8"}`,
		"bad0":   `{"_auth_user_id": `,
		"a1150":  `[1, 2, 3]`,
		"90e0":   `{"_auth_user_id": 99}`,
		"0a0":    `{"foo": "bar"}`,
	}
	users := fakeUsers{
		7: {ID: 7, Username: "alice"},
		8: {ID: 8, Username: "mod", IsStaff: true},
	}
	return NewResolver(sessions, users, tokens, wglog.Nop())
}

func TestResolveFromSessionCookie(t *testing.T) {
	r := newTestResolver(nil)
	ctx := context.Background()

	id := r.Resolve(ctx, Handshake{Cookie: "csrftoken=x; sessionid=abc123"})
	require.Equal(t, Identity{Name: "alice"}, id)

	id = r.Resolve(ctx, Handshake{Cookie: "sessionid=def456"})
	require.Equal(t, Identity{Name: "mod", IsStaff: true}, id)
}

func TestResolveDegradesToAnonymous(t *testing.T) {
	r := newTestResolver(nil)
	ctx := context.Background()

	cookies := []string{
		"",                // no cookie
		"sessionid=zzz",   // not hex
		"sessionid=fff",   // cache miss
		"sessionid=bad0",  // malformed json
		"sessionid=a1150", // not an object
		"sessionid=90e0",  // unknown user
		"sessionid=0a0",   // no user id
	}
	for i, c := range cookies {
		id := r.Resolve(ctx, Handshake{Cookie: c})
		require.False(t, id.IsStaff)
		require.Equal(t, fmt.Sprintf("anon%d", i+1), id.Name, "cookie %q", c)
	}
}

func TestLookupDoesNotConsumeGuestNames(t *testing.T) {
	r := newTestResolver(nil)
	ctx := context.Background()

	_, ok := r.Lookup(ctx, Handshake{})
	require.False(t, ok)
	require.Equal(t, "anon1", r.Resolve(ctx, Handshake{}).Name)
}

func TestResolveBearerToken(t *testing.T) {
	secret := []byte("test-secret")
	tokens := NewTokenVerifier(TokenConfig{Secret: secret, Issuer: "web"})
	r := newTestResolver(tokens)

	claims := Claims{
		Username: "carol",
		IsStaff:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "web",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	id := r.Resolve(context.Background(), Handshake{Authorization: "Bearer " + signed})
	require.Equal(t, Identity{Name: "carol", IsStaff: true}, id)

	id = r.Resolve(context.Background(), Handshake{Authorization: "Bearer garbage", Cookie: "sessionid=abc123"})
	require.Equal(t, "alice", id.Name, "falls back to the session cookie")
}

func TestSessionIDFromCookie(t *testing.T) {
	id, err := SessionIDFromCookie("a=b; sessionid=0a1b2c; c=d")
	require.NoError(t, err)
	require.Equal(t, "0a1b2c", id)

	_, err = SessionIDFromCookie("a=b")
	require.ErrorIs(t, err, ErrNoSession)
}
