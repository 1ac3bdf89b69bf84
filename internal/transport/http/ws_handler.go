package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-gateway/internal/auth"
	"github.com/vovakirdan/wirechat-gateway/internal/config"
	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/proto"
	"github.com/vovakirdan/wirechat-gateway/internal/utils"
)

const writeTimeout = 10 * time.Second

var (
	errKicked       = errors.New("connection kicked")
	errAuthRejected = errors.New("auth rejected")
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	gw        *core.Gateway
	hub       *core.Hub
	verifier  *auth.Verifier
	heartbeat *core.Heartbeat
	cfg       *config.Config
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(gw *core.Gateway, verifier *auth.Verifier, cfg *config.Config, logger *zerolog.Logger) http.Handler {
	return &WSHandler{
		gw:        gw,
		hub:       gw.Hub(),
		verifier:  verifier,
		heartbeat: core.NewHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatTimeout),
		cfg:       cfg,
		log:       logger,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// A token on the upgrade request binds the identity before any frame is read.
	var identity string
	if token := tokenFromRequest(r); token != "" {
		resolved, err := h.verifier.Resolve(token, "")
		if err != nil {
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("rejecting upgrade with invalid token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity = resolved
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns}
	if len(h.cfg.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(utils.NewConnID(), h.cfg.SendBuffer)
	logger := h.log.With().Str("conn_id", client.ID).Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("connection opened")

	h.hub.RegisterClient(client)
	defer func() {
		if user := h.hub.Unbind(client); user != "" {
			logger.Debug().Str("user_id", user).Msg("connection unbound")
		}
	}()

	if identity != "" {
		if err := h.hub.Bind(client, identity); err != nil {
			logger.Warn().Err(err).Msg("bind upgrade identity")
			conn.Close(websocket.StatusInternalError, "bind failed")
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.heartbeat.Monitor(ctx, client)
	}()

	err = <-errCh
	status, reason := closeStatus(client, err)
	if status != websocket.StatusNormalClosure {
		logger.Info().Str("user_id", client.Identity()).Str("reason", reason).Msg("closing connection")
	}
	conn.Close(status, reason)
	cancel()
	<-errCh
	<-errCh

	logger.Debug().Msg("connection closed")
}

// closeStatus picks the close code for the first loop error. Kicks take
// precedence since they explain why the loops stopped.
func closeStatus(client *core.Client, err error) (websocket.StatusCode, string) {
	switch reason := client.KickReason(); reason {
	case core.ReasonSlowConsumer, core.ReasonHeartbeatTimeout:
		return websocket.StatusPolicyViolation, reason
	case core.ReasonShutdown:
		return websocket.StatusGoingAway, reason
	case "":
	default:
		return websocket.StatusPolicyViolation, reason
	}
	switch {
	case errors.Is(err, core.ErrHeartbeatTimeout):
		return websocket.StatusPolicyViolation, core.ReasonHeartbeatTimeout
	case errors.Is(err, errAuthRejected):
		return websocket.StatusPolicyViolation, "unauthorized"
	}
	return websocket.StatusNormalClosure, "closing"
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("read ws frame")
			}
			return err
		}

		in, err := proto.Decode(data)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch in.Type {
		case proto.TypePing:
			h.heartbeat.Observe(client)
			client.Send(&core.Event{Kind: core.EventPong, At: time.Now()})
			continue
		case proto.TypePong:
			h.heartbeat.Observe(client)
			continue
		}

		if !limiter.allow() {
			logger.Warn().Str("type", in.Type).Msg("rate limit exceeded, dropping frame")
			continue
		}

		cmd, err := inboundToCommand(in)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping frame")
			continue
		}

		if err := h.gw.Handle(ctx, client, cmd); err != nil {
			// A rejected identity ends the connection; clients read the close
			// as the negative answer to their auth frame.
			if errors.Is(err, core.ErrUnauthorized) {
				logger.Info().Err(err).Str("claimed", in.UserID).Msg("auth rejected")
				return errAuthRejected
			}
			h.logHandleError(logger, client, in, err)
		}
	}
}

func (h *WSHandler) logHandleError(logger *zerolog.Logger, client *core.Client, in proto.Inbound, err error) {
	var ev *zerolog.Event
	switch {
	case core.IsPrecondition(err):
		ev = logger.Debug()
	case errors.Is(err, core.ErrPersist), errors.Is(err, core.ErrStoreUnavailable):
		ev = logger.Error()
	default:
		ev = logger.Warn()
	}
	ev.Err(err).
		Str("type", in.Type).
		Str("user_id", client.Identity()).
		Str("session_id", in.SessionID).
		Msg("dropping frame")
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case ev := <-client.Events:
			if err := h.write(ctx, conn, outboundFromEvent(ev)); err != nil {
				logger.Debug().Err(err).Str("event", ev.Kind.String()).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return errKicked
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}
