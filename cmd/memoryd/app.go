package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/analytics"
	"github.com/xaenox/memory-service/internal/cache"
	"github.com/xaenox/memory-service/internal/facts"
	"github.com/xaenox/memory-service/internal/llm"
	"github.com/xaenox/memory-service/internal/memory"
	"github.com/xaenox/memory-service/internal/storage"
	"github.com/xaenox/memory-service/internal/summarizer"
	"github.com/xaenox/memory-service/pkg/config"
	"github.com/xaenox/memory-service/pkg/logger"
)

// app is the wired pipeline shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   storage.Storage
	tracker *analytics.Tracker
	service *memory.Service
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, debug, err := globalFlags(cmd)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Logs go to stderr, stdout carries command output.
	log := logger.NewLoggerWithWriters(debug || cfg.Log.Debug, cfg.Log.Format == logger.FormatJSON, cmd.ErrOrStderr())

	store, err := openStore(cmd.Context(), cfg.Database, log)
	if err != nil {
		return nil, err
	}

	if cfg.OpenAI.APIKey == "" {
		log.Warn("No OpenAI API key configured, summarization and fact extraction calls will fail")
	}
	completer := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.OpenAI.Timeout,
	}, log.Named("llm"))

	sum, err := summarizer.New(store, completer, summarizer.Config{
		MessageThreshold: cfg.Summarizer.MessageThreshold,
		KeepRecentCount:  cfg.Summarizer.KeepRecentCount,
		ContextLimit:     cfg.Summarizer.ContextLimit,
	}, log.Named("summarizer"))
	if err != nil {
		store.Close()
		return nil, err
	}

	extractor := facts.NewExtractor(store, completer, facts.Config{
		MinConfidence: cfg.Facts.MinConfidence,
		MinImportance: cfg.Facts.MinImportance,
		Window:        cfg.Facts.Window,
	}, log.Named("facts"))

	tracker := analytics.NewTracker(store, analytics.Config{
		NumWorkers:    cfg.Analytics.Workers,
		QueueSize:     cfg.Analytics.QueueSize,
		RetentionDays: cfg.Analytics.RetentionDays,
	}, log.Named("analytics"))

	service := memory.NewService(memory.Options{
		Store:         store,
		Summarizer:    sum,
		Extractor:     extractor,
		Tracker:       tracker,
		Cache:         cache.NewHistory(cfg.Cache.Size, cfg.Cache.TTL),
		AutoSummarize: cfg.Summarizer.AutoSummarize,
		Logger:        log.Named("memory"),
	})

	return &app{
		cfg:     cfg,
		logger:  log,
		store:   store,
		tracker: tracker,
		service: service,
	}, nil
}

// Close flushes queued analytics events and closes the store.
func (a *app) Close() {
	a.tracker.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		log.Info("Using PostgreSQL storage", zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))
		store, err := storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		}, log.Named("storage"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		log.Info("Using SQLite storage", zap.String("path", cfg.SQLitePath))
		store, err := storage.NewSQLiteStorage(ctx, cfg.SQLitePath, log.Named("storage"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	default:
		log.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
}
