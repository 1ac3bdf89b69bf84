package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is a conversation between an ordered set of participants.
type Session struct {
	ID             string
	ParticipantIDs []string
	IsGroup        bool
	LastMessage    string
	LastMessageAt  *time.Time
	CreatedAt      time.Time
}

// HasParticipant reports whether userID belongs to the session.
func (s *Session) HasParticipant(userID string) bool {
	for _, id := range s.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Message represents a persisted chat message. Immutable once created.
type Message struct {
	ID        string
	SessionID string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// Presence is the last recorded online state of a user.
type Presence struct {
	UserID   string
	Online   bool
	LastSeen time.Time
}

// SessionStore handles session persistence.
type SessionStore interface {
	// CreateSession creates a session. Non-group sessions between the same two
	// users are deduplicated and the existing session is returned.
	CreateSession(ctx context.Context, participantIDs []string, isGroup bool) (*Session, error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions lists sessions the user participates in, most recent activity first.
	ListSessions(ctx context.Context, userID string) ([]*Session, error)

	// GetParticipants returns the ordered participant ids of a session.
	GetParticipants(ctx context.Context, sessionID string) ([]string, error)

	// UpdateSessionSummary writes the denormalized last-message fields.
	UpdateSessionSummary(ctx context.Context, sessionID, text string, at time.Time) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a new message and returns it with id and timestamp set.
	CreateMessage(ctx context.Context, sessionID, senderID, text string) (*Message, error)

	// ListMessages returns up to limit most recent messages of a session, oldest first.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
}

// PresenceStore records presence transitions.
type PresenceStore interface {
	// SetPresence stores the user's online flag and last-seen time.
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error

	// GetPresence returns the last stored presence for a user.
	GetPresence(ctx context.Context, userID string) (*Presence, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	SessionStore
	MessageStore
	PresenceStore

	// Close closes the underlying database connection.
	Close() error
}
