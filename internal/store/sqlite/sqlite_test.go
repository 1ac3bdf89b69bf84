package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateSessionDeduplicatesDirectPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, []string{"alice", "bob"}, false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	second, err := s.CreateSession(ctx, []string{"bob", "alice"}, false)
	if err != nil {
		t.Fatalf("create session again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected direct session reuse, got %s and %s", first.ID, second.ID)
	}

	group, err := s.CreateSession(ctx, []string{"alice", "bob"}, true)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if group.ID == first.ID {
		t.Fatalf("group sessions must not be deduplicated")
	}

	if _, err := s.CreateSession(ctx, []string{"alice"}, false); err == nil {
		t.Fatalf("expected error for direct session with one participant")
	}
}

func TestParticipantsKeepOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, []string{"carol", "alice", "bob", "alice"}, true)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	participants, err := s.GetParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	want := []string{"carol", "alice", "bob"}
	if len(participants) != len(want) {
		t.Fatalf("participants = %v, want %v", participants, want)
	}
	for i := range want {
		if participants[i] != want[i] {
			t.Fatalf("participants = %v, want %v", participants, want)
		}
	}

	if _, err := s.GetParticipants(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessagesAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, []string{"alice", "bob"}, false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	texts := []string{"one", "two", "three"}
	var last *store.Message
	for _, text := range texts {
		last, err = s.CreateMessage(ctx, session.ID, "alice", text)
		if err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	if last.ID == "" || last.CreatedAt.IsZero() {
		t.Fatalf("message should have id and timestamp: %+v", last)
	}

	if err := s.UpdateSessionSummary(ctx, session.ID, last.Text, last.CreatedAt); err != nil {
		t.Fatalf("update summary: %v", err)
	}

	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.LastMessage != "three" || got.LastMessageAt == nil {
		t.Fatalf("summary not stored: %+v", got)
	}
	if !got.HasParticipant("bob") || got.HasParticipant("mallory") {
		t.Fatalf("unexpected participants: %v", got.ParticipantIDs)
	}

	history, err := s.ListMessages(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(history) != 2 || history[0].Text != "two" || history[1].Text != "three" {
		t.Fatalf("unexpected history: %+v", history)
	}

	if _, err := s.CreateMessage(ctx, "missing", "alice", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}
	if err := s.UpdateSessionSummary(ctx, "missing", "x", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session summary, got %v", err)
	}
}

func TestListSessionsOrdersByActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older, err := s.CreateSession(ctx, []string{"alice", "bob"}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	newer, err := s.CreateSession(ctx, []string{"alice", "carol"}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateSession(ctx, []string{"bob", "carol"}, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateSessionSummary(ctx, older.ID, "latest", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("update: %v", err)
	}

	sessions, err := s.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions for alice, got %d", len(sessions))
	}
	if sessions[0].ID != older.ID || sessions[1].ID != newer.ID {
		t.Fatalf("unexpected order: %s, %s", sessions[0].ID, sessions[1].ID)
	}
}

func TestPresenceUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetPresence(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.SetPresence(ctx, "alice", true, seen); err != nil {
		t.Fatalf("set presence: %v", err)
	}
	if err := s.SetPresence(ctx, "alice", false, seen.Add(time.Minute)); err != nil {
		t.Fatalf("set presence: %v", err)
	}

	p, err := s.GetPresence(ctx, "alice")
	if err != nil {
		t.Fatalf("get presence: %v", err)
	}
	if p.Online || !p.LastSeen.Equal(seen.Add(time.Minute)) {
		t.Fatalf("unexpected presence: %+v", p)
	}
}
