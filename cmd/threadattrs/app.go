package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/kalambet/threadattrs/internal/config"
	"github.com/kalambet/threadattrs/internal/llm"
	"github.com/kalambet/threadattrs/internal/logging"
	"github.com/kalambet/threadattrs/internal/prompts"
	"github.com/kalambet/threadattrs/internal/ratelimit"
	"github.com/kalambet/threadattrs/internal/storage"
	"github.com/kalambet/threadattrs/internal/threads"
)

const serviceName = "threadattrs"

// app holds the wired pipeline for one process.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	backend storage.Backend
	service *threads.Service
}

func newLogger(cfg config.Config, w io.Writer, format string) (zerolog.Logger, error) {
	if format == "" {
		format = cfg.Log.Format
	}
	return logging.NewWithWriter(w, serviceName, cfg.Log.Level, format)
}

// openBackend opens the record store selected by THREADATTRS_STORE_DRIVER.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		s, err := storage.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := storage.OpenPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverDynamoDB:
		s, err := storage.OpenDynamo(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint, cfg.DynamoDB.Tables())
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}

// openSQL opens the SQL store for maintenance commands, which have no
// DynamoDB equivalent.
func openSQL(cfg config.Config) (*storage.SQLStore, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		return storage.OpenSQLite(cfg.Store.SQLitePath)
	case config.DriverPostgres:
		return storage.OpenPostgres(cfg.Store.PostgresDSN)
	}
	return nil, fmt.Errorf("command requires a SQL store, driver is %q", cfg.Store.Driver)
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}

	catalog, err := prompts.Load(cfg.LLM.PromptFile)
	if err != nil {
		return nil, err
	}
	prompt, err := catalog.Get(cfg.LLM.Prompt)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		service: buildService(cfg, backend, prompt, logger),
	}, nil
}

// buildService wires the pipeline over an open backend.
func buildService(cfg config.Config, backend storage.Backend, prompt prompts.Prompt, logger zerolog.Logger) *threads.Service {
	store := storage.NewClient(backend, logger)

	limiter := ratelimit.New(backend, logger,
		ratelimit.WithWindow(cfg.RateLimit.Window),
		ratelimit.WithLookupFailurePolicy(cfg.RateLimit.LookupPolicy()),
		ratelimit.WithCheckFailurePolicy(cfg.RateLimit.CheckPolicy()),
	)

	client := llm.NewClient(llm.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	})
	extractor := llm.NewExtractor(client, store, llm.ExtractorConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Stop:        cfg.LLM.Stop,
		Prompt:      prompt,
		RejectEmpty: cfg.LLM.RejectEmpty,
	}, logger)

	return threads.NewService(store, limiter, extractor, threads.Options{
		EnforceRateLimits: cfg.RateLimit.Enforce,
		PersistAttributes: cfg.Threads.PersistAttributes,
	}, logger)
}

func (a *app) Close() error {
	return a.backend.Close()
}
