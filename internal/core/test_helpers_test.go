package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustPresence skips events until a presence event for user arrives.
func mustPresence(t *testing.T, ch <-chan *Event, user string, online bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev.Kind == EventPresence && ev.User == user {
				if ev.Online != online {
					t.Fatalf("presence for %s: online=%v, want %v", user, ev.Online, online)
				}
				return
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected presence %s online=%v not received", user, online)
}

func expectNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

func drain(ch <-chan *Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func connect(t *testing.T, hub *Hub, id, user string) *Client {
	t.Helper()

	c := NewClient(id, 32)
	hub.RegisterClient(c)
	if user != "" {
		if err := hub.Bind(c, user); err != nil {
			t.Fatalf("bind %s: %v", user, err)
		}
	}
	return c
}

type summary struct {
	sessionID string
	text      string
	at        time.Time
}

// fakeStore is an in-memory MessageStore with call recording and injectable failures.
type fakeStore struct {
	mu               sync.Mutex
	sessions         map[string][]string
	messages         []Message
	summaries        []summary
	failCreate       error
	failSummary      error
	failParticipants error
	seq              int
}

func newFakeStore(sessions map[string][]string) *fakeStore {
	return &fakeStore{sessions: sessions}
}

func (f *fakeStore) CreateMessage(_ context.Context, sessionID, senderID, text string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.seq++
	msg := Message{
		ID:        fmt.Sprintf("m%d", f.seq),
		SessionID: sessionID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeStore) UpdateSessionSummary(_ context.Context, sessionID, text string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSummary != nil {
		return f.failSummary
	}
	f.summaries = append(f.summaries, summary{sessionID: sessionID, text: text, at: at})
	return nil
}

func (f *fakeStore) GetParticipants(_ context.Context, sessionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failParticipants != nil {
		return nil, f.failParticipants
	}
	participants, ok := f.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]string(nil), participants...), nil
}

func (f *fakeStore) counts() (messages, summaries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages), len(f.summaries)
}

func (f *fakeStore) persisted() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

type presenceRecord struct {
	user   string
	online bool
}

type recordingSink struct {
	mu      sync.Mutex
	records []presenceRecord
}

func (r *recordingSink) SetPresence(_ context.Context, userID string, online bool, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, presenceRecord{user: userID, online: online})
	return nil
}

func (r *recordingSink) snapshot() []presenceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]presenceRecord(nil), r.records...)
}
