package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-gateway/internal/config"
	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/log"
	"github.com/vovakirdan/wirechat-gateway/internal/proto"
	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestCreateSessionReusesDirectSession(t *testing.T) {
	env := startTestServer(t, nil)

	resp := doJSON(t, env, http.MethodPost, "/api/sessions", "alice", `{"participantIds":["bob"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var first SessionResponse
	decodeBody(t, resp, &first)
	if len(first.ParticipantIDs) != 2 || first.ParticipantIDs[0] != "alice" {
		t.Fatalf("caller must be a participant: %+v", first)
	}

	resp = doJSON(t, env, http.MethodPost, "/api/sessions", "bob", `{"participantIds":["alice"]}`)
	var second SessionResponse
	decodeBody(t, resp, &second)
	if second.ID != first.ID {
		t.Fatalf("direct session should be reused: %s vs %s", first.ID, second.ID)
	}

	resp = doJSON(t, env, http.MethodPost, "/api/sessions", "alice", `{"participantIds":["bob","carol"]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("direct session with three people should be rejected, got %d", resp.StatusCode)
	}

	resp = doJSON(t, env, http.MethodPost, "/api/sessions", "alice", `{"participantIds":["bob","carol"],"isGroup":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected group session, got %d", resp.StatusCode)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/sessions", "carol", "")
	var carols []SessionResponse
	decodeBody(t, resp, &carols)
	if len(carols) != 1 || !carols[0].IsGroup {
		t.Fatalf("carol should see only the group: %+v", carols)
	}
}

func TestRESTRequiresIdentity(t *testing.T) {
	env := startTestServer(t, nil)

	resp := doJSON(t, env, http.MethodGet, "/api/sessions", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestFallbackSendDeliversOverWebSocket(t *testing.T) {
	env := startTestServer(t, nil)
	s1 := env.session(t, "alice", "bob")
	bob := env.login(t, "bob")

	body := fmt.Sprintf(`{"sessionId":%q,"text":"offline send"}`, s1)
	resp := doJSON(t, env, http.MethodPost, "/api/messages", "alice", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created proto.Message
	decodeBody(t, resp, &created)

	out := waitForType(t, bob, proto.TypeMessage)
	if out.Message.ID != created.ID || out.Message.Text != "offline send" {
		t.Fatalf("bob got %+v, want %+v", out.Message, created)
	}
}

func TestFallbackSendErrors(t *testing.T) {
	env := startTestServer(t, nil)
	s1 := env.session(t, "alice", "bob")

	cases := []struct {
		name string
		user string
		body string
		want int
	}{
		{"blank text", "alice", fmt.Sprintf(`{"sessionId":%q,"text":"   "}`, s1), http.StatusBadRequest},
		{"bad session id", "alice", `{"sessionId":"no spaces","text":"x"}`, http.StatusBadRequest},
		{"unknown session", "alice", `{"sessionId":"missing","text":"x"}`, http.StatusNotFound},
		{"outsider", "mallory", fmt.Sprintf(`{"sessionId":%q,"text":"x"}`, s1), http.StatusForbidden},
		{"missing fields", "alice", `{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, env, http.MethodPost, "/api/messages", tc.user, tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := startTestServer(t, nil)
	s1 := env.session(t, "alice", "bob")
	alice := env.login(t, "alice")

	for _, text := range []string{"one", "two", "three"} {
		send(t, alice, proto.MessageFrame(s1, text))
		waitForType(t, alice, proto.TypeMessage)
	}

	resp := doJSON(t, env, http.MethodGet, "/api/sessions/"+s1+"/messages", "bob", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var history []proto.Message
	decodeBody(t, resp, &history)
	if len(history) != 3 || history[0].Text != "one" || history[2].Text != "three" {
		t.Fatalf("unexpected history: %+v", history)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/sessions/"+s1+"/messages?limit=1", "bob", "")
	decodeBody(t, resp, &history)
	if len(history) != 1 || history[0].Text != "three" {
		t.Fatalf("limit should keep the most recent message: %+v", history)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/sessions/"+s1+"/messages", "mallory", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider must be refused, got %d", resp.StatusCode)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/sessions/"+s1+"/messages?limit=zero", "bob", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestPresenceEndpoints(t *testing.T) {
	env := startTestServer(t, nil)
	env.login(t, "alice")
	bob := env.login(t, "bob")

	resp := doJSON(t, env, http.MethodGet, "/api/presence", "carol", "")
	var online struct {
		Online []string `json:"online"`
	}
	decodeBody(t, resp, &online)
	if len(online.Online) != 2 || online.Online[0] != "alice" || online.Online[1] != "bob" {
		t.Fatalf("unexpected online list: %+v", online)
	}

	_ = bob.CloseNow()
	eventually(t, func() bool { return !env.hub.Online("bob") }, "bob should go offline")
	eventually(t, func() bool { return env.sink.offlineCount("bob") == 1 }, "bob's offline should be recorded")

	resp = doJSON(t, env, http.MethodGet, "/api/presence/bob", "carol", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var p PresenceResponse
	decodeBody(t, resp, &p)
	if p.UserID != "bob" || p.Online || p.LastSeen == "" {
		t.Fatalf("unexpected presence: %+v", p)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/presence/nobody", "carol", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", resp.StatusCode)
	}
}

// fixedPresence serves one stored presence and ignores writes.
type fixedPresence struct {
	p store.Presence
}

func (f fixedPresence) SetPresence(context.Context, string, bool, time.Time) error { return nil }

func (f fixedPresence) GetPresence(_ context.Context, userID string) (*store.Presence, error) {
	if userID != f.p.UserID {
		return nil, store.ErrNotFound
	}
	p := f.p
	return &p, nil
}

func TestPresenceReadsConfiguredStore(t *testing.T) {
	env := startTestServer(t, nil)
	seen := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	router := NewRouter(env.gw, env.verifier, env.store, fixedPresence{p: store.Presence{UserID: "dave", LastSeen: seen}}, log.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/presence/dave", nil)
	req.Header.Set(HeaderUserID, "carol")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p PresenceResponse
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Online || p.LastSeen != "2026-03-04T05:06:07Z" {
		t.Fatalf("last seen should come from the configured store: %+v", p)
	}
}

func TestSubmitErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{core.ErrInvalidSession, http.StatusBadRequest},
		{core.ErrEmptyText, http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", core.ErrSessionNotFound), http.StatusNotFound},
		{core.ErrNotParticipant, http.StatusForbidden},
		{fmt.Errorf("%w: database is locked", core.ErrStoreUnavailable), http.StatusInternalServerError},
		{fmt.Errorf("%w: disk full", core.ErrPersist), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := submitErrorStatus(tc.err); got != tc.want {
			t.Fatalf("submitErrorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestTypingEndpoint(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.TypingTTL = time.Hour
	})
	s1 := env.session(t, "alice", "bob")
	alice := env.login(t, "alice")

	send(t, alice, proto.TypingFrame(proto.TypeTyping, s1, ""))
	syncConn(t, alice)

	resp := doJSON(t, env, http.MethodGet, "/api/sessions/"+s1+"/typing", "bob", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var typing TypingResponse
	decodeBody(t, resp, &typing)
	if typing.SessionID != s1 || len(typing.Typing) != 1 || typing.Typing[0] != "alice" {
		t.Fatalf("unexpected typing response: %+v", typing)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/sessions/"+s1+"/typing", "mallory", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider must be refused, got %d", resp.StatusCode)
	}
	resp = doJSON(t, env, http.MethodGet, "/api/sessions/missing/typing", "bob", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}
