package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/proto"
	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

const maxHistoryLimit = 500

// APIHandlers serves the request/response side of the gateway: the fallback
// send path, session management and history.
type APIHandlers struct {
	gw    *core.Gateway
	store store.Store
	log   *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(gw *core.Gateway, st store.Store, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{gw: gw, store: st, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SendMessageRequest is the body of the fallback send path.
type SendMessageRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ParticipantIDs []string `json:"participantIds" binding:"required,min=1"`
	IsGroup        bool     `json:"isGroup"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID             string   `json:"id"`
	ParticipantIDs []string `json:"participantIds"`
	IsGroup        bool     `json:"isGroup"`
	LastMessage    string   `json:"lastMessage,omitempty"`
	LastMessageAt  string   `json:"lastMessageAt,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

// SendMessage persists and fans out a message exactly like a websocket
// "message" frame would.
// POST /api/messages
func (h *APIHandlers) SendMessage(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.gw.Submit(c.Request.Context(), uid, req.SessionID, req.Text)
	if err != nil {
		status, text := submitErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("user_id", uid).Str("session_id", req.SessionID).Msg("fallback send failed")
		}
		c.JSON(status, ErrorResponse{Error: text})
		return
	}

	c.JSON(http.StatusCreated, messageToProto(*msg))
}

func submitErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidSession):
		return http.StatusBadRequest, "invalid session id"
	case errors.Is(err, core.ErrEmptyText):
		return http.StatusBadRequest, "text is empty"
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, core.ErrNotParticipant):
		return http.StatusForbidden, "not a participant"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// CreateSession creates a session that includes the caller. Direct sessions
// between the same pair are reused.
// POST /api/sessions
func (h *APIHandlers) CreateSession(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create session request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	participants := withCaller(uid, req.ParticipantIDs)
	if !req.IsGroup && len(participants) != 2 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "direct session needs exactly one other participant"})
		return
	}
	if len(participants) < 2 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "session needs another participant"})
		return
	}

	session, err := h.store.CreateSession(c.Request.Context(), participants, req.IsGroup)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to create session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("session_id", session.ID).Str("user_id", uid).Int("participants", len(session.ParticipantIDs)).Msg("session created")
	c.JSON(http.StatusCreated, sessionResponse(session))
}

// ListSessions lists the caller's sessions, most recent activity first.
// GET /api/sessions
func (h *APIHandlers) ListSessions(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	sessions, err := h.store.ListSessions(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to list sessions")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, sessionResponse(s))
	}
	c.JSON(http.StatusOK, response)
}

// ListMessages returns a session's history oldest first. Clients use it to
// reconcile what they missed while disconnected.
// GET /api/sessions/:id/messages?limit=N
func (h *APIHandlers) ListMessages(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	sessionID := c.Param("id")
	if !core.ValidSessionID(sessionID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid session id"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx := c.Request.Context()
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
			return
		}
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !session.HasParticipant(uid) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	messages, err := h.store.ListMessages(ctx, sessionID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]proto.Message, 0, len(messages))
	for _, m := range messages {
		response = append(response, messageToProto(core.FromStoreMessage(m)))
	}
	c.JSON(http.StatusOK, response)
}

// TypingResponse lists who is typing in a session.
type TypingResponse struct {
	SessionID string   `json:"sessionId"`
	Typing    []string `json:"typing"`
}

// ListTyping returns the live typing indicators of a session so a client
// that just connected can render them.
// GET /api/sessions/:id/typing
func (h *APIHandlers) ListTyping(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	sessionID := c.Param("id")
	users, err := h.gw.TypingUsers(c.Request.Context(), uid, sessionID)
	if err != nil {
		status, msg := submitErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to list typing users")
		}
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, TypingResponse{SessionID: sessionID, Typing: users})
}

func withCaller(caller string, ids []string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := map[string]struct{}{caller: {}}
	out = append(out, caller)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sessionResponse(s *store.Session) SessionResponse {
	resp := SessionResponse{
		ID:             s.ID,
		ParticipantIDs: s.ParticipantIDs,
		IsGroup:        s.IsGroup,
		LastMessage:    s.LastMessage,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.LastMessageAt != nil {
		resp.LastMessageAt = s.LastMessageAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}
