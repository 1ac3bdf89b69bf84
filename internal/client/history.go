package client

import (
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-gateway/internal/proto"
)

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// History is the local, de-duplicated message log per session. A message
// delivered live can reappear in a later history fetch; it is kept once.
type History struct {
	mu       sync.Mutex
	sessions map[string]*sessionLog
}

type sessionLog struct {
	seen     map[string]struct{}
	messages []entry
}

type entry struct {
	msg proto.Message
	at  time.Time
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{sessions: make(map[string]*sessionLog)}
}

// Add records msg and reports whether it was new.
func (h *History) Add(msg proto.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(msg)
}

// Merge records every message and returns the ones that were new, in the
// order given.
func (h *History) Merge(msgs []proto.Message) []proto.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	var added []proto.Message
	for _, m := range msgs {
		if h.addLocked(m) {
			added = append(added, m)
		}
	}
	return added
}

// Messages returns a copy of a session's history ordered by creation time.
// Messages with equal timestamps keep their arrival order.
func (h *History) Messages(sessionID string) []proto.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	log, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]proto.Message, len(log.messages))
	for i, e := range log.messages {
		out[i] = e.msg
	}
	return out
}

// Len returns how many messages are stored for a session.
func (h *History) Len(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if log, ok := h.sessions[sessionID]; ok {
		return len(log.messages)
	}
	return 0
}

func (h *History) addLocked(msg proto.Message) bool {
	if msg.ID == "" {
		return false
	}
	log, ok := h.sessions[msg.SessionID]
	if !ok {
		log = &sessionLog{seen: make(map[string]struct{})}
		h.sessions[msg.SessionID] = log
	}
	if _, dup := log.seen[msg.ID]; dup {
		return false
	}
	log.seen[msg.ID] = struct{}{}

	at, err := time.Parse(time.RFC3339Nano, msg.CreatedAt)
	if err != nil {
		// Unparseable timestamps go last rather than being lost.
		at = farFuture
	}
	i := sort.Search(len(log.messages), func(i int) bool {
		return log.messages[i].at.After(at)
	})
	log.messages = append(log.messages, entry{})
	copy(log.messages[i+1:], log.messages[i:])
	log.messages[i] = entry{msg: msg, at: at}
	return true
}
