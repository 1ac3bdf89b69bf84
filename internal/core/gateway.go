package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MessageStore is the only bridge between the gateway and persistence.
type MessageStore interface {
	CreateMessage(ctx context.Context, sessionID, senderID, text string) (*Message, error)
	UpdateSessionSummary(ctx context.Context, sessionID, text string, at time.Time) error
	GetParticipants(ctx context.Context, sessionID string) ([]string, error)
}

// IdentityVerifier turns presented credentials into a bound identity.
type IdentityVerifier interface {
	Resolve(token, claimed string) (string, error)
}

// PresenceSink records presence transitions somewhere durable.
type PresenceSink interface {
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
}

// GatewayOptions tunes the gateway.
type GatewayOptions struct {
	// TypingTTL is the server-side expiry of a typing indicator; zero disables it.
	TypingTTL time.Duration
	// PresenceSinks receive every presence transition.
	PresenceSinks []PresenceSink
	// CollaboratorTimeout bounds background store calls (typing relays, presence records).
	CollaboratorTimeout time.Duration
}

// Gateway validates application commands, persists state-changing events
// and fans frames out through the hub.
type Gateway struct {
	hub      *Hub
	store    MessageStore
	verifier IdentityVerifier
	typing   *TypingState
	sinks    []PresenceSink
	timeout  time.Duration
	sessions *sessionLocks
	log      *zerolog.Logger
}

// NewGateway wires the fan-out engine. verifier may be nil, in which case the
// claimed identity is trusted.
func NewGateway(hub *Hub, st MessageStore, verifier IdentityVerifier, opts GatewayOptions, logger *zerolog.Logger) *Gateway {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := opts.CollaboratorTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	g := &Gateway{
		hub:      hub,
		store:    st,
		verifier: verifier,
		sinks:    opts.PresenceSinks,
		timeout:  timeout,
		sessions: newSessionLocks(),
		log:      logger,
	}
	g.typing = NewTypingState(opts.TypingTTL, g.typingExpired)
	return g
}

// Hub returns the registry the gateway delivers through.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// TypingUsers returns who is currently typing in sessionID. Only
// participants may ask.
func (g *Gateway) TypingUsers(ctx context.Context, userID, sessionID string) ([]string, error) {
	if _, err := g.typingParticipants(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return g.typing.Typing(sessionID), nil
}

// Run consumes presence transitions until ctx is cancelled: it records them
// in the presence sinks and clears typing indicators of users going offline.
func (g *Gateway) Run(ctx context.Context) {
	defer g.typing.Close()
	for {
		select {
		case <-ctx.Done():
			g.log.Debug().Int("typing_entries", g.typing.Len()).Msg("gateway stopped")
			return
		case change := <-g.hub.Changes():
			g.onPresence(ctx, change)
		}
	}
}

// Handle executes one application command for connection c. Precondition
// failures are returned as errors matching IsPrecondition; the caller drops
// the frame.
func (g *Gateway) Handle(ctx context.Context, c *Client, cmd *Command) error {
	if cmd.Kind == CommandAuth {
		return g.authenticate(c, cmd)
	}

	identity := c.Identity()
	if identity == "" {
		return ErrNotAuthenticated
	}

	switch cmd.Kind {
	case CommandSendMessage:
		_, err := g.Submit(ctx, identity, cmd.SessionID, cmd.Text)
		return err
	case CommandTyping:
		return g.StartTyping(ctx, identity, cmd.SessionID)
	case CommandStopTyping:
		return g.StopTyping(ctx, identity, cmd.SessionID)
	default:
		return fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
}

func (g *Gateway) authenticate(c *Client, cmd *Command) error {
	identity := strings.TrimSpace(cmd.UserID)
	if g.verifier != nil {
		resolved, err := g.verifier.Resolve(cmd.Token, cmd.UserID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		identity = resolved
	}
	if identity == "" {
		return ErrUnauthorized
	}
	return g.hub.Bind(c, identity)
}

// Submit persists a message from senderID and delivers it to every live
// connection of the session's participants. Messages of one session are
// persisted and enqueued strictly one at a time, so every participant sees
// them in persistence order.
func (g *Gateway) Submit(ctx context.Context, senderID, sessionID, text string) (*Message, error) {
	if !ValidSessionID(sessionID) {
		return nil, ErrInvalidSession
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	unlock := g.sessions.lock(sessionID)
	defer unlock()

	participants, err := g.participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !contains(participants, senderID) {
		return nil, ErrNotParticipant
	}

	msg, err := g.store.CreateMessage(ctx, sessionID, senderID, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	// The message is already durable; a stale summary is not worth losing the broadcast.
	if err := g.store.UpdateSessionSummary(ctx, sessionID, msg.Text, msg.CreatedAt); err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Str("message_id", msg.ID).Msg("update session summary")
	}

	delivered := g.hub.Deliver(participants, &Event{
		Kind:      EventMessage,
		SessionID: sessionID,
		User:      senderID,
		Message:   *msg,
		At:        msg.CreatedAt,
	})
	g.log.Debug().
		Str("session_id", sessionID).
		Str("message_id", msg.ID).
		Str("user_id", senderID).
		Int("delivered", delivered).
		Msg("message fanned out")

	return msg, nil
}

// StartTyping creates or refreshes userID's indicator and relays it to the
// other participants.
func (g *Gateway) StartTyping(ctx context.Context, userID, sessionID string) error {
	participants, err := g.typingParticipants(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	g.typing.Start(sessionID, userID)
	g.relay(participants, userID, &Event{Kind: EventTyping, SessionID: sessionID, User: userID, At: time.Now()})
	return nil
}

// StopTyping clears userID's indicator and relays the stop if one was live.
func (g *Gateway) StopTyping(ctx context.Context, userID, sessionID string) error {
	participants, err := g.typingParticipants(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if g.typing.Stop(sessionID, userID) {
		g.relay(participants, userID, &Event{Kind: EventStopTyping, SessionID: sessionID, User: userID, At: time.Now()})
	}
	return nil
}

func (g *Gateway) typingParticipants(ctx context.Context, userID, sessionID string) ([]string, error) {
	if !ValidSessionID(sessionID) {
		return nil, ErrInvalidSession
	}
	participants, err := g.participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !contains(participants, userID) {
		return nil, ErrNotParticipant
	}
	return participants, nil
}

func (g *Gateway) typingExpired(sessionID, userID string) {
	g.log.Debug().Str("session_id", sessionID).Str("user_id", userID).Msg("typing indicator expired")
	g.relayStop(context.Background(), sessionID, userID)
}

func (g *Gateway) relayStop(ctx context.Context, sessionID, userID string) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	participants, err := g.participants(ctx, sessionID)
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Str("user_id", userID).Msg("relay stop-typing")
		return
	}
	g.relay(participants, userID, &Event{Kind: EventStopTyping, SessionID: sessionID, User: userID, At: time.Now()})
}

// relay delivers ev to every participant except the originator.
func (g *Gateway) relay(participants []string, from string, ev *Event) {
	others := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != from {
			others = append(others, p)
		}
	}
	g.hub.Deliver(others, ev)
}

func (g *Gateway) onPresence(ctx context.Context, change PresenceChange) {
	// The user may already be back by the time the change is consumed; their
	// new indicators must survive.
	if !change.Online && !g.hub.Online(change.User) {
		for _, sessionID := range g.typing.ClearUser(change.User) {
			g.relayStop(ctx, sessionID, change.User)
		}
	}

	for _, sink := range g.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, g.timeout)
		if err := sink.SetPresence(sinkCtx, change.User, change.Online, change.At); err != nil {
			g.log.Warn().Err(err).Str("user_id", change.User).Bool("online", change.Online).Msg("record presence")
		}
		cancel()
	}
}

func (g *Gateway) participants(ctx context.Context, sessionID string) ([]string, error) {
	participants, err := g.store.GetParticipants(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(participants) == 0 {
		return nil, ErrSessionNotFound
	}
	return participants, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// sessionLocks serializes work per session without any cross-session locking.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (s *sessionLocks) lock(sessionID string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
