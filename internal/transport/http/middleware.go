package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-gateway/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing the caller's identity.
	ContextKeyUserID = "user_id"
	// HeaderUserID carries a claimed identity when tokens are not required.
	HeaderUserID = "X-User-ID"
)

// tokenFromRequest extracts a bearer token from the Authorization header or
// the token query parameter. Browsers cannot set headers on websocket
// upgrades, hence the query fallback.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware resolves the caller's identity from a bearer token, or from
// the X-User-ID header when the verifier does not require one.
func AuthMiddleware(verifier *auth.Verifier, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c.Request)
		identity, err := verifier.Resolve(token, c.GetHeader(HeaderUserID))
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("rejecting unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}

		c.Set(ContextKeyUserID, identity)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

// callerID returns the identity AuthMiddleware stored on the context.
func callerID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
