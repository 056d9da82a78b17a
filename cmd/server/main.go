package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"medassist/internal/config"
	"medassist/internal/core"
	"medassist/internal/db"
	httpserver "medassist/internal/http"
	"medassist/internal/llm"
	"medassist/internal/retention"
	"medassist/internal/telemetry"
)

// transcriptStore is what every storage backend offers the server.
type transcriptStore interface {
	httpserver.Transcripts
	retention.Pruner
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer("medassist", os.Stderr, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, conn, notifier, err := openStore(ctx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	if conn != nil {
		defer conn.Close()
	}

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.PredictModel,
		Temperature: cfg.LLM.Temperature,
		Stream:      cfg.LLM.Stream,
	})

	opts := core.Options{
		PredictModel: cfg.LLM.PredictModel,
		ExplainModel: cfg.LLM.ExplainModel,
		Context: core.ContextOptions{
			MaxTurns:  cfg.History.MaxTurns,
			MaxTokens: cfg.History.MaxTokens,
			Counter:   llm.NewTokenCounter(cfg.LLM.PredictModel),
		},
		Logger: logger,
	}
	serverOpts := httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	}
	if notifier != nil {
		defer notifier.Close()
		opts.OnCommit = notifier.Notify
		serverOpts.Updates = notifier
	}
	chat := core.NewChatService(client, store, opts)
	srv := httpserver.NewServer(chat, store, serverOpts)

	if cfg.Retention.Schedule != "" {
		sweeper := retention.New(store, cfg.Retention.MaxAge, logger)
		if err := sweeper.Start(cfg.Retention.Schedule); err != nil {
			log.Fatalf("Failed to start retention scheduler: %v", err)
		}
		defer sweeper.Stop()
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting server",
			slog.Int("port", cfg.Server.Port),
			slog.String("storage", cfg.Storage.Driver),
			slog.String("predict_model", cfg.LLM.PredictModel),
			slog.String("explain_model", cfg.LLM.ExplainModel),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
}

// openStore selects the history backend.  The notifier is only returned for
// Postgres, the one backend with LISTEN/NOTIFY.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transcriptStore, *sql.DB, *db.Notifier, error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory transcript storage; history is lost on restart")
		return db.NewMemoryStore(), nil, nil, nil
	}
	dialect, err := db.ParseDialect(cfg.Storage.Driver)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := db.Open(ctx, dialect, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	repo := db.NewRepository(conn, dialect)
	if dialect != db.Postgres {
		return repo, conn, nil, nil
	}
	return repo, conn, db.NewNotifier(conn, cfg.Storage.DSN, cfg.Storage.NotifyChannel, logger), nil
}
