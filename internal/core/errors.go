package core

import "errors"

// Kick reasons.
const (
	ReasonSlowConsumer     = "slow consumer"
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonShutdown         = "server shutting down"
)

var (
	// ErrNotAuthenticated is returned for application frames sent before auth.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUnauthorized is returned when the presented credentials do not yield an identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidSession is returned for malformed session references.
	ErrInvalidSession = errors.New("invalid session reference")
	// ErrSessionNotFound is returned when the session has no participants.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotParticipant is returned when the sender is not in the participant set.
	ErrNotParticipant = errors.New("not a participant")
	// ErrEmptyText is returned for messages that are blank after trimming.
	ErrEmptyText = errors.New("empty message text")
	// ErrPersist wraps failures of the message store.
	ErrPersist = errors.New("persist message")
	// ErrStoreUnavailable wraps failures reading session data.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownClient is returned when binding a connection the hub does not know.
	ErrUnknownClient = errors.New("unknown client")
	// ErrHubClosed is returned once the hub has stopped.
	ErrHubClosed = errors.New("hub closed")
	// ErrHeartbeatTimeout is returned when a connection misses its liveness window.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// IsPrecondition reports whether err is a silently dropped precondition failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrNotParticipant) ||
		errors.Is(err, ErrEmptyText)
}
