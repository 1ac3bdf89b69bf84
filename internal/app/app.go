package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-gateway/internal/auth"
	"github.com/vovakirdan/wirechat-gateway/internal/config"
	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/store"
	redisstore "github.com/vovakirdan/wirechat-gateway/internal/store/redis"
	"github.com/vovakirdan/wirechat-gateway/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-gateway/internal/transport/http"
)

const redisConnectTimeout = 5 * time.Second

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	gateway         *core.Gateway
	store           store.Store
	mirror          *redisstore.PresenceMirror
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	sinks := []core.PresenceSink{st}
	var presence store.PresenceStore = st

	var mirror *redisstore.PresenceMirror
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		mirror, err = redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cancel()
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init presence mirror: %w", err)
		}
		sinks = append(sinks, mirror)
		presence = mirror
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("presence mirror enabled")
	}

	verifier := auth.NewVerifier(JWTConfig(cfg), cfg.JWTRequired)
	if verifier.Required() {
		logger.Info().Msg("identity tokens required")
	} else {
		logger.Warn().Msg("jwt_required is off: claimed identities are trusted")
	}

	hub := core.NewHub(logger)
	gw := core.NewGateway(hub, core.NewStoreAdapter(st), verifier, core.GatewayOptions{
		TypingTTL:     cfg.TypingTTL,
		PresenceSinks: sinks,
	}, logger)

	server := transporthttp.NewServer(gw, verifier, st, presence, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		gateway:         gw,
		store:           st,
		mirror:          mirror,
		log:             logger,
	}, nil
}

// JWTConfig derives token settings from the configuration.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
// The hub outlives the listener so that connections are closed with a
// going-away status during shutdown.
func (a *App) Run(ctx context.Context) error {
	coreCtx, stopCore := context.WithCancel(context.Background())
	var coreGroup errgroup.Group
	coreGroup.Go(func() error {
		a.hub.Run(coreCtx)
		return nil
	})
	coreGroup.Go(func() error {
		a.gateway.Run(coreCtx)
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	a.log.Info().Int("connections", a.hub.ClientCount()).Msg("closing realtime connections")
	stopCore()
	_ = coreGroup.Wait()

	a.cleanup()
	return err
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close presence mirror")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
