// gtm-datalayer server - installs tag manager and data layer tracking into
// Shopify stores. Serves the operator API, MCP tools, OAuth install flow and
// platform webhooks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"gtm-datalayer/internal/adapter"
	"gtm-datalayer/internal/config"
	"gtm-datalayer/internal/handler"
	"gtm-datalayer/internal/middleware"
	"gtm-datalayer/internal/shopify"
	"gtm-datalayer/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("app_url", cfg.AppURL),
		slog.String("api_version", cfg.Shopify.APIVersion),
		slog.Bool("require_session_token", cfg.RequireSessionToken),
		slog.Bool("postgres", cfg.DatabaseURL != ""),
		slog.Bool("redis", cfg.RedisAddr != ""),
	)

	credentials, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer closeStore()

	platform := shopify.NewPlatform(shopify.Config{
		APIKey:     cfg.Shopify.APIKey,
		APISecret:  cfg.Shopify.APISecret,
		Scopes:     cfg.Shopify.Scopes,
		APIVersion: cfg.Shopify.APIVersion,
	})

	h := handler.New(handler.Config{
		Installer:           adapter.NewShopify(platform, logger),
		Credentials:         credentials,
		Auth:                platform,
		APIKey:              cfg.Shopify.APIKey,
		APISecret:           cfg.Shopify.APISecret,
		RedirectURI:         cfg.RedirectURI(),
		TokenPrefixes:       cfg.TokenPrefixes,
		RequireSessionToken: cfg.RequireSessionToken,
	}, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // theme writes are paced per shop
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// openStore builds the credential store: Postgres when DATABASE_URL is set,
// in-memory otherwise, behind a Redis cache when REDIS_ADDR is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	var (
		s       store.Store
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := store.Migrate(db); err != nil {
			closeAll()
			return nil, nil, err
		}
		s = store.NewPostgres(db)
	} else {
		logger.Warn("DATABASE_URL not set, credentials are kept in memory")
		s = store.NewMemory()
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			// The cache falls through on errors; an unreachable Redis only costs latency.
			logger.Warn("redis unreachable", slog.String("addr", cfg.RedisAddr), slog.String("error", err.Error()))
		}
		s = store.NewCached(s, client, logger)
	}

	return s, closeAll, nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
