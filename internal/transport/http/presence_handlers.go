package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

// PresenceHandlers answers presence queries from live registry state, with
// the last-seen time taken from the presence store.
type PresenceHandlers struct {
	hub   *core.Hub
	store store.PresenceStore
	log   *zerolog.Logger
}

// NewPresenceHandlers creates presence handlers.
func NewPresenceHandlers(hub *core.Hub, st store.PresenceStore, logger *zerolog.Logger) *PresenceHandlers {
	return &PresenceHandlers{hub: hub, store: st, log: logger}
}

// PresenceResponse is one user's presence.
type PresenceResponse struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// ListOnline returns the identities that currently have a live connection.
// GET /api/presence
func (h *PresenceHandlers) ListOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.hub.OnlineUsers()})
}

// GetPresence returns a single user's presence.
// GET /api/presence/:userId
func (h *PresenceHandlers) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	resp := PresenceResponse{UserID: userID, Online: h.hub.Online(userID)}

	stored, err := h.store.GetPresence(c.Request.Context(), userID)
	switch {
	case err == nil:
		resp.LastSeen = stored.LastSeen.UTC().Format(time.RFC3339)
	case errors.Is(err, store.ErrNotFound):
		if !resp.Online {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown user"})
			return
		}
	default:
		h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to load stored presence")
	}

	c.JSON(http.StatusOK, resp)
}
