package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-gateway/internal/auth"
	"github.com/vovakirdan/wirechat-gateway/internal/config"
	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/proto"
	"github.com/vovakirdan/wirechat-gateway/internal/store/sqlite"
)

const testSecret = "testsecret"

type testEnv struct {
	ts       *httptest.Server
	hub      *core.Hub
	gw       *core.Gateway
	store    *sqlite.SQLiteStore
	verifier *auth.Verifier
	jwt      *auth.JWTConfig
	sink     *countingSink
}

// countingSink records presence transitions per user.
type countingSink struct {
	mu      sync.Mutex
	offline map[string]int
	online  map[string]int
}

func (s *countingSink) SetPresence(_ context.Context, userID string, online bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.online[userID]++
	} else {
		s.offline[userID]++
	}
	return nil
}

func (s *countingSink) offlineCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline[userID]
}

// startTestServer runs the full HTTP stack over an in-memory store. mutate
// may adjust the configuration before anything is built.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = testSecret
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	jwtCfg := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	verifier := auth.NewVerifier(jwtCfg, cfg.JWTRequired)
	sink := &countingSink{offline: map[string]int{}, online: map[string]int{}}

	hub := core.NewHub(&logger)
	gw := core.NewGateway(hub, core.NewStoreAdapter(st), verifier, core.GatewayOptions{
		TypingTTL:     cfg.TypingTTL,
		PresenceSinks: []core.PresenceSink{st, sink},
	}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	go gw.Run(ctx)

	server := NewServer(gw, verifier, st, nil, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, gw: gw, store: st, verifier: verifier, jwt: jwtCfg, sink: sink}
}

func (e *testEnv) wsURL(query string) string {
	u := strings.Replace(e.ts.URL, "http", "ws", 1) + WSPath
	if query != "" {
		u += "?" + query
	}
	return u
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.wsURL(query), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// login dials and authenticates with the auth frame, returning once the hub
// holds the new connection. A second connection for the same user gets no
// presence frame, so the bind is observed on the hub.
func (e *testEnv) login(t *testing.T, user string) *websocket.Conn {
	t.Helper()

	before := e.hub.Connections(user)
	conn := e.dial(t, "")
	send(t, conn, proto.AuthFrame(user, ""))
	syncConn(t, conn)
	eventually(t, func() bool { return e.hub.Connections(user) == before+1 }, user+" should be bound")
	return conn
}

func (e *testEnv) session(t *testing.T, participants ...string) string {
	t.Helper()

	s, err := e.store.CreateSession(context.Background(), participants, len(participants) > 2)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s.ID
}

func send(t *testing.T, conn *websocket.Conn, in proto.Inbound) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("send %s: %v", in.Type, err)
	}
}

// waitFor reads frames until match accepts one.
func waitFor(t *testing.T, conn *websocket.Conn, match func(proto.Outbound) bool) proto.Outbound {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(out) {
			return out
		}
	}
}

func waitForType(t *testing.T, conn *websocket.Conn, typ string) proto.Outbound {
	t.Helper()
	return waitFor(t, conn, func(out proto.Outbound) bool { return out.Type == typ })
}

// expectNoFrame fails if a frame of typ arrives within wait. Reading past a
// deadline closes the connection, so call it last.
func expectNoFrame(t *testing.T, conn *websocket.Conn, typ string, wait time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return
		}
		if out.Type == typ {
			t.Fatalf("unexpected %s frame: %+v", typ, out)
		}
	}
}

// syncConn sends a ping and waits for its pong. Frames of one connection are
// handled in order, so everything sent before has been processed.
// expectClosed reads until the server closes the connection and checks the
// close status.
func expectClosed(t *testing.T, conn *websocket.Conn, want websocket.StatusCode) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var out proto.Outbound
		err := wsjson.Read(ctx, conn, &out)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != want {
			t.Fatalf("expected close status %v, got %v (%v)", want, got, err)
		}
		return
	}
}

func syncConn(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, proto.PingFrame())
	waitForType(t, conn, proto.TypePong)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func doJSON(t *testing.T, e *testEnv, method, path, user, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
