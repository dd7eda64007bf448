package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	msql "task-timer/internal/adapter/mysql"
	redisrelay "task-timer/internal/adapter/redis"
	"task-timer/internal/adapter/sqlite"
	"task-timer/internal/auth"
	"task-timer/internal/broadcast"
	"task-timer/internal/config"
	"task-timer/internal/migrate"
	"task-timer/internal/ports"
	"task-timer/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// App wires adapters and use cases.
type App struct {
	log    *slog.Logger
	cfg    config.Config
	store  ports.Store
	hub    *broadcast.Broadcaster
	relay  *redisrelay.Relay // nil without REDIS_URL
	timer  *usecase.TimerUseCase
	tokens *auth.Verifier
}

// OpenStore opens the configured storage backend. For MySQL, pending
// migrations are applied first.
func OpenStore(ctx context.Context, log *slog.Logger, cfg config.Config) (ports.SeedableStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		if err := migrate.Run(ctx, cfg.MySQL.DSN, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return msql.NewStore(ctx, cfg.MySQL.DSN, log)
	case config.DriverSQLite:
		return sqlite.NewStore(ctx, cfg.Store.SQLitePath, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func New(ctx context.Context, log *slog.Logger, cfg config.Config) (*App, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	a, err := assemble(log, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.Redis.URL != "" {
		relay, err := redisrelay.NewRelay(ctx, cfg.Redis.URL, cfg.Redis.Channel, a.hub, log)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.relay = relay
		a.timer.Publisher = relay
		log.Info("cross-instance relay enabled", slog.String("channel", cfg.Redis.Channel))
	}
	return a, nil
}

// assemble builds an App around an already opened store.
func assemble(log *slog.Logger, cfg config.Config, store ports.Store) (*App, error) {
	tokens, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}
	hub := broadcast.New(log, cfg.Stream.Heartbeat)
	return &App{
		log:    log,
		cfg:    cfg,
		store:  store,
		hub:    hub,
		tokens: tokens,
		timer: &usecase.TimerUseCase{
			Log:       log,
			Store:     store,
			Publisher: hub,
		},
	}, nil
}

// Run serves HTTP and drives the heartbeat (and the relay, when enabled)
// until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := a.HTTPServer(a.cfg.HTTP.Addr)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hub.Run(gctx) })
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	g.Go(func() error {
		a.log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		// Open streams only end once the broadcaster closes; Shutdown waits for them.
		a.hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Close releases the relay and the store.
func (a *App) Close() error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
