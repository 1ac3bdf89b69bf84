package core

import (
	"sort"
	"sync"
	"time"
)

type typingKey struct {
	session string
	user    string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingState tracks who is composing a message in which session. Entries
// expire after ttl unless refreshed; nothing is persisted.
type TypingState struct {
	mu       sync.Mutex
	ttl      time.Duration
	gen      uint64
	entries  map[typingKey]*typingEntry
	onExpire func(sessionID, userID string)
}

// NewTypingState creates a tracker. A non-positive ttl disables expiry.
// onExpire runs on its own goroutine after an entry lapses.
func NewTypingState(ttl time.Duration, onExpire func(sessionID, userID string)) *TypingState {
	return &TypingState{
		ttl:      ttl,
		entries:  make(map[typingKey]*typingEntry),
		onExpire: onExpire,
	}
}

// Start creates or refreshes the entry and reports whether it is new.
func (t *TypingState) Start(sessionID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{session: sessionID, user: userID}
	entry, exists := t.entries[key]
	if exists && entry.timer != nil {
		entry.timer.Stop()
	}
	if !exists {
		entry = &typingEntry{}
		t.entries[key] = entry
	}

	t.gen++
	entry.gen = t.gen
	if t.ttl > 0 {
		gen := entry.gen
		entry.timer = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
	}
	return !exists
}

// Stop removes the entry and reports whether it existed.
func (t *TypingState) Stop(sessionID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.removeLocked(typingKey{session: sessionID, user: userID})
}

// ClearUser removes every entry of userID and returns the affected sessions.
func (t *TypingState) ClearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sessions []string
	for key := range t.entries {
		if key.user == userID {
			t.removeLocked(key)
			sessions = append(sessions, key.session)
		}
	}
	sort.Strings(sessions)
	return sessions
}

// Typing returns the sorted users currently typing in sessionID.
func (t *TypingState) Typing(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []string
	for key := range t.entries {
		if key.session == sessionID {
			users = append(users, key.user)
		}
	}
	sort.Strings(users)
	return users
}

// Len returns the number of live entries.
func (t *TypingState) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops all timers and drops every entry.
func (t *TypingState) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		t.removeLocked(key)
	}
}

func (t *TypingState) removeLocked(key typingKey) bool {
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(t.entries, key)
	return true
}

func (t *TypingState) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	// A refresh or stop since the timer was armed wins.
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(key.session, key.user)
	}
}
