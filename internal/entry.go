// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/laguz/internal/api"
	"github.com/starford/laguz/internal/entrystore"
	"github.com/starford/laguz/internal/notify"
	"github.com/starford/laguz/internal/persist"
	"github.com/starford/laguz/internal/remote"
	"github.com/starford/laguz/internal/session"
	"github.com/starford/laguz/internal/stream"
	"github.com/starford/laguz/internal/syncer"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_backend", cfg.Data.Backend),
		slog.String("remote_mode", cfg.Remote.Mode),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Durable storage for the encrypted records.
	local, fsStore, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer local.Close()

	events := notify.NewBroker()
	defer events.Close()

	entries := entrystore.New()
	svc := stream.NewService(entries, local, events, logger, cfg.Auth.Password)
	defer svc.Close()

	loaded, err := svc.Load(ctx)
	if err != nil {
		return fmt.Errorf("load stream: %w", err)
	}
	logger.Info("Stream loaded", slog.Int("entries", loaded))

	// Session store for password-gated access.
	var sessions *session.RedisStore
	if cfg.Auth.SessionsEnabled() {
		sessions, err = session.NewRedisStore(cfg.Auth.RedisURL, cfg.Auth.TTL)
		if err != nil {
			return fmt.Errorf("init sessions: %w", err)
		}
		defer sessions.Close()
	}

	// Sync peer.
	rem := app.remote
	if rem == nil {
		if cfg.Remote.Enabled() {
			rem = remote.NewHTTP(cfg.Remote.URL, cfg.Remote.Token)
		} else {
			rem = remote.NewMemory()
		}
	}

	coord := syncer.New(entries, local, svc, svc, rem, events, logger, syncer.Options{
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffCap:  cfg.Sync.BackoffCap,
	})
	svc.SetEnqueuer(coord)
	if err := coord.Load(ctx); err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(svc, entries, coord, sessions, events))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the data dir for external writers (fs backend only).
	if fsStore != nil {
		g.Go(func() error {
			return persist.Watch(gCtx, fsStore, logger, func(kind, key string) {
				svc.Refresh(gCtx, kind, key)
			})
		})
	}

	// Connect to the sync peer once the server is up.
	if cfg.Sync.StartOnline && cfg.Remote.Enabled() {
		g.Go(func() error {
			coord.GoOnline(gCtx)
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		coord.GoOffline()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// openBackend builds the configured persistence backend. The second
// return value is non-nil only for the fs backend, which supports
// change watching.
func openBackend(ctx context.Context, cfg *Config) (persist.Store, *persist.FS, error) {
	switch cfg.Data.Backend {
	case BackendFS:
		if err := os.MkdirAll(cfg.Data.Path, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		fs, err := persist.NewFS(cfg.Data.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil

	case BackendSQLite:
		db, err := persist.OpenSQLite(cfg.Data.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil

	case BackendMinio:
		m, err := persist.NewMinio(ctx, persist.MinioOptions{
			Endpoint:  cfg.Data.Minio.Endpoint,
			AccessKey: cfg.Data.Minio.AccessKey,
			SecretKey: cfg.Data.Minio.SecretKey,
			Bucket:    cfg.Data.Minio.Bucket,
			UseSSL:    cfg.Data.Minio.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return m, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown data backend %q", cfg.Data.Backend)
	}
}
