// Package app wires configuration into a running set of services. Both
// server binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"link-tracker/pkg/cache"
	"link-tracker/pkg/config"
	httphandler "link-tracker/pkg/http"
	"link-tracker/pkg/logging"
	"link-tracker/pkg/security"
	"link-tracker/pkg/service"
	"link-tracker/pkg/storage"
	"link-tracker/pkg/storage/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	Config *config.Config
	Logger *logging.Logger

	Store     storage.RecordStore
	Resolver  *service.Resolver
	Recorder  *service.ClickRecorder
	Links     *service.LinkService
	Analytics *service.AnalyticsService

	closers []func()
}

// New opens the configured backend, layers the optional cache and write
// queue on top, creates empty collections and starts the click recorder.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		store = a.withCache(ctx, store)
	}

	switch cfg.WriteMode {
	case config.WriteModeSerialized:
		queue := storage.NewWriteQueue(store, 0)
		a.closers = append(a.closers, queue.Close)
		store = queue
	case config.WriteModeNaive:
		logger.Warn(ctx, "naive write mode: concurrent counter updates may be lost")
	default:
		a.Close()
		return nil, fmt.Errorf("unknown write mode %q", cfg.WriteMode)
	}

	if i, ok := store.(storage.Initializer); ok {
		if err := i.Init(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
	}
	a.Store = store

	secret := cfg.CloakSecret
	if secret == "" {
		logger.Warn(ctx, "CLOAK_SECRET not set, using development default")
		secret = security.DefaultCloakSecret
	}
	codec, err := security.NewCloakCodec(secret)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Resolver = service.NewResolver(store, codec, logger)
	gate := service.NewAccountingGate()
	a.Links = service.NewLinkService(store, codec, logger, cfg.BaseURL).WithGate(gate)
	a.Analytics = service.NewAnalyticsService(store, logger).WithGate(gate)
	a.Recorder = service.NewClickRecorder(store, logger, service.RecorderConfig{
		Workers:   cfg.RecorderWorkers,
		QueueSize: cfg.RecorderQueueSize,
		Retries:   cfg.RecorderRetries,
		Timeout:   cfg.StorageTimeout * 2,
		Gate:      gate,
	})
	// Drain clicks before the stores underneath go away.
	a.closers = append(a.closers, a.Recorder.Close)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (storage.RecordStore, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendCSV:
		a.Logger.Info(ctx, "using csv store", "dir", cfg.DataDir)
		return storage.NewCSVStore(cfg.DataDir), nil
	case config.BackendMemory:
		a.Logger.Warn(ctx, "using in-memory store, data is not persisted")
		return storage.NewMemoryStore(), nil
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
		m, err := migrations.New(cfg.DatabaseURL, a.Logger)
		if err != nil {
			return nil, err
		}
		err = m.Up(ctx)
		if cerr := m.Close(); cerr != nil {
			a.Logger.Warn(ctx, "failed to close migrator", "error", cerr)
		}
		if err != nil {
			return nil, err
		}

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		a.Logger.Info(ctx, "using postgres store")
		return storage.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// withCache puts the Redis read cache in front of store. An unreachable
// Redis only disables the cache.
func (a *App) withCache(ctx context.Context, store storage.RecordStore) storage.RecordStore {
	opt, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		a.Logger.Warn(ctx, "invalid REDIS_URL, cache disabled", "error", err)
		return store
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		a.Logger.Warn(ctx, "redis unreachable, cache disabled", "error", err)
		client.Close()
		return store
	}
	a.closers = append(a.closers, func() { client.Close() })
	a.Logger.Info(ctx, "redis cache enabled", "ttl", a.Config.CacheTTL.String())
	return cache.NewStore(store, cache.NewCollectionCache(client), a.Config.CacheTTL, a.Logger)
}

// Handler builds the HTTP handler over the app's services.
func (a *App) Handler() *httphandler.Handler {
	return httphandler.NewHandler(httphandler.Options{
		Resolver:          a.Resolver,
		Recorder:          a.Recorder,
		Links:             a.Links,
		Analytics:         a.Analytics,
		Logger:            a.Logger,
		InterstitialDelay: a.Config.InterstitialDelay,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *logging.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(context.Background(), "failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				logger.Error(context.Background(), "failed to force close server", "error", closeErr)
			}
			return err
		}
		return nil
	}
}
