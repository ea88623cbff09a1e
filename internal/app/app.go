package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/okarpov/roomcast/internal/auth"
	"github.com/okarpov/roomcast/internal/config"
	"github.com/okarpov/roomcast/internal/core"
	"github.com/okarpov/roomcast/internal/store"
	"github.com/okarpov/roomcast/internal/store/postgres"
	"github.com/okarpov/roomcast/internal/store/sqlite"
	transporthttp "github.com/okarpov/roomcast/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	gateway         store.Gateway
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	gw, err := newGateway(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init gateway: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("persistence gateway initialized")

	bc := core.NewBroadcaster(
		cfg.Chat.SenderEcho,
		core.ParseOverflowPolicy(cfg.Chat.OverflowPolicy),
		*logger,
	)
	registry := core.NewRegistry(gw, bc, core.RegistryOptions{
		IdleWindow:   cfg.Chat.RoomIdleWindow,
		LoadTimeout:  cfg.Chat.StorageTimeout,
		WriteTimeout: cfg.Chat.StorageTimeout,
	}, *logger)

	verifier := auth.NewVerifier(
		[]byte(cfg.Auth.JWTSecret),
		cfg.Auth.JWTIssuer,
		cfg.Auth.JWTAudience,
	)

	server := transporthttp.NewServer(registry, gw, verifier, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		gateway:         gw,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and the room janitor, blocking until context
// cancellation or a fatal server error. A listen failure cancels the group
// context so the janitor and the shutdown watcher unwind together.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.registry.Run(ctx)
		return nil
	})

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// cleanup closes the gateway and other resources.
func (a *App) cleanup() {
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close gateway")
		} else {
			a.log.Info().Msg("gateway closed")
		}
	}
}

func newGateway(ctx context.Context, cfg config.DatabaseConfig) (store.Gateway, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	case "sqlite", "":
		return sqlite.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
