package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-gateway/internal/auth"
	"github.com/vovakirdan/wirechat-gateway/internal/config"
	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/proto"
	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

// WSPath is where the realtime protocol is multiplexed onto the HTTP listener.
const WSPath = proto.WSPath

// NewServer builds the HTTP server: health probe, websocket upgrade and the
// REST endpoints, all on one listener. presence is where last-seen times are
// read from; nil means st.
func NewServer(gw *core.Gateway, verifier *auth.Verifier, st store.Store, presence store.PresenceStore, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(gw, verifier, st, presence, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the websocket upgrade directly on a ServeMux and hands
// every other path to the gin router. The upgraded connection must not pass
// through gin's response writer.
func NewHandler(gw *core.Gateway, verifier *auth.Verifier, st store.Store, presence store.PresenceStore, cfg *config.Config, logger *zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(WSPath, NewWSHandler(gw, verifier, cfg, logger))
	mux.Handle("/", NewRouter(gw, verifier, st, presence, logger))
	return mux
}

// NewRouter builds the gin engine serving health and REST endpoints.
func NewRouter(gw *core.Gateway, verifier *auth.Verifier, st store.Store, presence store.PresenceStore, logger *zerolog.Logger) *gin.Engine {
	if presence == nil {
		presence = st
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := NewAPIHandlers(gw, st, logger)
	presenceAPI := NewPresenceHandlers(gw.Hub(), presence, logger)

	authed := router.Group("/api")
	authed.Use(AuthMiddleware(verifier, logger))
	{
		authed.POST("/messages", api.SendMessage)
		authed.POST("/sessions", api.CreateSession)
		authed.GET("/sessions", api.ListSessions)
		authed.GET("/sessions/:id/messages", api.ListMessages)
		authed.GET("/sessions/:id/typing", api.ListTyping)
		authed.GET("/presence", presenceAPI.ListOnline)
		authed.GET("/presence/:userId", presenceAPI.GetPresence)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
