package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/orator/internal/api"
	"github.com/MikeSquared-Agency/orator/internal/config"
	"github.com/MikeSquared-Agency/orator/internal/genai"
	"github.com/MikeSquared-Agency/orator/internal/generate"
	"github.com/MikeSquared-Agency/orator/internal/live"
	"github.com/MikeSquared-Agency/orator/internal/metrics"
	"github.com/MikeSquared-Agency/orator/internal/photos"
	slackalert "github.com/MikeSquared-Agency/orator/internal/slack"
	"github.com/MikeSquared-Agency/orator/internal/store"
	"github.com/MikeSquared-Agency/orator/internal/worker"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("orator starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"batch_size", cfg.BatchSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to database (Supabase Postgres).
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Step 2: Generation backend client.
	client, err := genai.New(genai.Config{
		BaseURL:      cfg.GenAIBaseURL,
		APIKey:       cfg.GenAIAPIKey,
		Model:        cfg.Model,
		OutlineModel: cfg.OutlineModel,
		Timeout:      cfg.GenAITimeout,
		MaxRetries:   cfg.GenAIMaxRetries,
	})
	if err != nil {
		slog.Error("failed to init generation client", "error", err)
		os.Exit(1)
	}

	// Step 3: Live snapshot hub and process metrics.
	hub := live.NewHub()
	collector := metrics.NewCollector()

	opts := generate.Options{
		Metrics:   collector,
		BatchSize: cfg.BatchSize,
		Transforms: generate.Transforms{
			ImageEndpoint: cfg.ImageEndpoint,
			ImageKey:      cfg.ImageKey,
		},
	}

	// Conditionally create Slack alerter for failed-run notifications.
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		opts.Alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack failure alerts enabled", "channel", cfg.SlackAlertChannel)
	}

	// Step 4: Connect to NATS.
	wk, err := worker.New(cfg.NatsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}

	// Step 5: Generation service, publishing events over the worker's
	// connection.
	svc := generate.NewService(client, db, hub, wk.Publish, opts)

	// Step 6: Start consuming generation requests.
	if err := wk.Start(svc); err != nil {
		slog.Error("failed to start NATS worker", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS worker started")

	// Step 7: Photo search proxy, enabled when a key is configured.
	var photoSearch api.PhotoSearcher
	if cfg.PhotosAPIKey != "" {
		photoSearch = photos.NewClient(cfg.PhotosAPIKey, "")
		slog.Info("photo search enabled")
	}

	// Step 8: Start HTTP API.
	srv := api.NewServer(db, svc, hub, photoSearch, collector, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("orator ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()
	// Stop intake before draining runs so nothing new starts mid-shutdown.
	wk.Close()
	svc.Close()
	slog.Info("orator stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
