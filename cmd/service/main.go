// cmd/service/main.go
package main

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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-metadata-fetcher/internal/api"
	"repo-metadata-fetcher/internal/config"
	"repo-metadata-fetcher/internal/crawler"
	"repo-metadata-fetcher/internal/github"
	"repo-metadata-fetcher/internal/gitlab"
	"repo-metadata-fetcher/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	repoStore := store.New(dbpool)

	// Interface values stay nil for hosts without a token so the crawler skips them.
	var (
		ghSource crawler.GithubSource
		glSource crawler.GitlabSource
		limits   api.RateLimiter
	)
	if cfg.GithubToken != "" {
		ghClient := github.NewClient(cfg.GithubToken, cfg.GithubStarFilter, logger.With("host", "github"))
		ghSource, limits = ghClient, ghClient
	}
	if cfg.GitlabToken != "" {
		glSource = gitlab.NewClient(cfg.GitlabBaseURL, cfg.GitlabToken, cfg.GitlabStarFilter, logger.With("host", "gitlab"))
	}

	appCrawler := crawler.New(ghSource, glSource, repoStore, crawler.Options{
		Concurrency:   cfg.Concurrency,
		Interval:      cfg.CrawlInterval,
		Window:        cfg.CrawlWindow,
		Since:         cfg.CrawlSinceTime,
		GitlabStartID: cfg.GitlabStartID,
		MaxPages:      cfg.CrawlMaxPages,
	}, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(repoStore, limits, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 6. Start the crawler and the API server
	go appCrawler.Start(ctx)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 7. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	<-ctx.Done()
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
