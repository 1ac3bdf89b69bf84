package core

import (
	"regexp"
	"time"
)

// Message is the domain model for a chat message.
type Message struct {
	ID        string
	SessionID string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidSessionID reports whether id is a well-formed session reference.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
