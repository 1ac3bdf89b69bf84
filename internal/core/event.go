package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage delivers a persisted message to a session participant.
	EventMessage EventKind = iota
	// EventTyping relays that a participant started typing.
	EventTyping
	// EventStopTyping relays that a participant stopped typing or the indicator expired.
	EventStopTyping
	// EventPresence announces an online/offline transition.
	EventPresence
	// EventPong acknowledges a liveness probe.
	EventPong
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventTyping:
		return "typing"
	case EventStopTyping:
		return "stop-typing"
	case EventPresence:
		return "presence"
	case EventPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	SessionID string
	User      string
	Online    bool
	Message   Message
	At        time.Time
}

// PresenceChange is a transition across the zero/non-zero connection boundary.
type PresenceChange struct {
	User   string
	Online bool
	At     time.Time
}
