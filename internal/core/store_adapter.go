package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

// SessionMessageStore is the slice of persistence the adapter needs.
type SessionMessageStore interface {
	store.SessionStore
	store.MessageStore
}

// StoreAdapter implements MessageStore on top of the persistence layer,
// translating its records and errors into core types.
type StoreAdapter struct {
	st SessionMessageStore
}

// NewStoreAdapter wraps st.
func NewStoreAdapter(st SessionMessageStore) *StoreAdapter {
	return &StoreAdapter{st: st}
}

// CreateMessage persists a message.
func (a *StoreAdapter) CreateMessage(ctx context.Context, sessionID, senderID, text string) (*Message, error) {
	msg, err := a.st.CreateMessage(ctx, sessionID, senderID, text)
	if err != nil {
		return nil, translate(err)
	}
	out := FromStoreMessage(msg)
	return &out, nil
}

// UpdateSessionSummary writes the session's last-message fields.
func (a *StoreAdapter) UpdateSessionSummary(ctx context.Context, sessionID, text string, at time.Time) error {
	return translate(a.st.UpdateSessionSummary(ctx, sessionID, text, at))
}

// GetParticipants returns the session's participant identities.
func (a *StoreAdapter) GetParticipants(ctx context.Context, sessionID string) ([]string, error) {
	participants, err := a.st.GetParticipants(ctx, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	return participants, nil
}

// FromStoreMessage converts a persisted message into the core model.
func FromStoreMessage(m *store.Message) Message {
	return Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return err
}

var _ MessageStore = (*StoreAdapter)(nil)
