package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/qbloader/qbloader/internal/config"
	"github.com/qbloader/qbloader/internal/core"
	"github.com/qbloader/qbloader/internal/events"
	"github.com/qbloader/qbloader/internal/logging"
	"github.com/qbloader/qbloader/internal/qbo"
	"github.com/qbloader/qbloader/internal/store"
	"github.com/qbloader/qbloader/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_workers", cfg.Import.Workers,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Provider clients: one per user, cached by the manager so token refresh
	// stays serialized per user.
	manager := qbo.NewManager(qbo.Config{
		ClientID:          cfg.QBO.ClientID,
		ClientSecret:      cfg.QBO.ClientSecret,
		BaseURL:           cfg.QBO.BaseURL,
		TokenURL:          cfg.QBO.TokenURL,
		MinorVersion:      cfg.QBO.MinorVersion,
		Timeout:           cfg.QBO.Timeout,
		RequestsPerSecond: cfg.QBO.RequestsPerSecond,
	}, &credentialSource{store: st})

	broker := events.NewBroker()
	service := core.NewService(st, clientFactory(manager), broker, core.Options{
		MaxFileSize:  cfg.Import.MaxFileSize,
		PreviewRows:  cfg.Import.PreviewRows,
		PollInterval: cfg.Import.PollInterval,
		MaxAttempts:  cfg.Import.MaxAttempts,
		RetryDelay:   cfg.Import.RetryDelay,
		JobTimeout:   cfg.Import.JobTimeout,
	})

	server := web.NewServer(service, broker, manager, cfg)

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for i := 0; i < cfg.Import.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			service.RunWorker(workerCtx)
		}()
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		cancelWorkers()
		workers.Wait()
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
	workers.Wait()
}

// credentialSource adapts the store's credential record to what the provider
// client expects.
type credentialSource struct {
	store *store.Store
}

func (c *credentialSource) Credential(ctx context.Context, userID uuid.UUID) (qbo.Credentials, error) {
	cred, err := c.store.GetCredential(ctx, userID)
	if err != nil {
		return qbo.Credentials{}, fmt.Errorf("user %s is not connected to QuickBooks: %w", userID, err)
	}
	return qbo.Credentials{
		UserID:       cred.UserID,
		RealmID:      cred.RealmID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
	}, nil
}

func (c *credentialSource) SaveTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	return c.store.SaveTokens(ctx, userID, accessToken, refreshToken, expiresAt)
}

// clientFactory narrows the concrete manager to the interface the pipeline
// consumes.
func clientFactory(m *qbo.Manager) core.ClientFactory {
	return func(ctx context.Context, userID uuid.UUID) (core.QBO, error) {
		return m.ClientFor(ctx, userID)
	}
}
