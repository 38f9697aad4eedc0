package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/wiregate/internal/conference"
	"github.com/vovakirdan/wiregate/internal/config"
	"github.com/vovakirdan/wiregate/internal/core"
	"github.com/vovakirdan/wiregate/internal/identity"
	wglog "github.com/vovakirdan/wiregate/internal/log"
	"github.com/vovakirdan/wiregate/internal/proto"
	"github.com/vovakirdan/wiregate/internal/ratelimit"
)

const testSecret = "testsecret"

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	confs *conference.Registry
}

func startTestServer(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()

	logger := wglog.Nop()
	hub := core.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	tokens := identity.NewTokenVerifier(identity.TokenConfig{Secret: []byte(testSecret)})
	resolver := identity.NewResolver(nil, nil, tokens, logger)
	confs := conference.NewRegistry(nil, logger)

	server := NewServer(Deps{
		Hub:         hub,
		Resolver:    resolver,
		Limiter:     limiter,
		Conferences: confs,
	}, config.Config{Addr: ":0", ReadHeaderTimeout: time.Second}, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &testEnv{ts: ts, hub: hub, confs: confs}
}

func makeToken(t *testing.T, username string, staff bool) string {
	t.Helper()
	claims := identity.Claims{
		Username: username,
		IsStaff:  staff,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// dial opens a websocket on path; token may be empty for an anonymous connection.
func (e *testEnv) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var opts *websocket.DialOptions
	if token != "" {
		opts = &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer " + token}}}
	}
	url := strings.Replace(e.ts.URL, "http", "ws", 1) + path
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type received struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := proto.Inbound{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		in.Data = raw
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out received
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func recvEvent(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	out := recv(t, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != name {
		t.Fatalf("expected event %q, got %+v", name, out)
	}
	if data != nil {
		if err := json.Unmarshal(out.Data, data); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
	}
}

// roundTrip round-trips a ping so every event queued before it has been read.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, proto.InboundTypePing, nil)
	recvEvent(t, conn, proto.EventPong, nil)
}
