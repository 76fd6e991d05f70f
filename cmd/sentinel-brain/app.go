package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dnssentinel/sentinel-brain/internal/cache"
	"github.com/dnssentinel/sentinel-brain/internal/config"
	"github.com/dnssentinel/sentinel-brain/internal/engine"
	"github.com/dnssentinel/sentinel-brain/internal/inference"
	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/patterns"
	"github.com/dnssentinel/sentinel-brain/internal/publish"
	"github.com/dnssentinel/sentinel-brain/internal/repo"
	"github.com/dnssentinel/sentinel-brain/internal/state"
	"github.com/dnssentinel/sentinel-brain/internal/telemetry"
	"github.com/dnssentinel/sentinel-brain/internal/ws"
)

// store is what both the Postgres and SQLite backends provide.
type store interface {
	telemetry.Store
	engine.IncidentStore
	publish.Auditor
	patterns.Source
}

// app holds the wired engine and everything that must be closed with it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pipeline *engine.Pipeline
	history  *patterns.Miner
	redis    *redis.Client
	hub      *ws.Hub
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	telemetryStore, err := a.openStore(ctx, cfg.Telemetry.Driver, cfg.Telemetry.DSN, cfg.Telemetry.Timeout)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: %w", err)
	}
	auditStore := telemetryStore
	if cfg.Audit.Driver != cfg.Telemetry.Driver || (cfg.Audit.DSN != "" && cfg.Audit.DSN != cfg.Telemetry.DSN) {
		if auditStore, err = a.openStore(ctx, cfg.Audit.Driver, cfg.Audit.DSN, cfg.Telemetry.Timeout); err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
	}

	a.history = patterns.NewMiner(logger, auditStore)

	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLS:          cfg.Redis.TLS,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
	}

	var dedup cache.Deduper
	var searchCache cache.Lookup = cache.NoopProvider{}
	var intake publish.Intake
	if a.redis != nil {
		provider := cache.NewRedisProvider(a.redis)
		dedup = provider
		if cfg.Cache.Enabled {
			searchCache = provider
		}
		intake = publish.NewRedisIntake(a.redis, cfg.Publisher.IntakeStream, cfg.Publisher.EscalationStream)
	} else {
		logger.Warn("redis not configured: deduplicating in memory and logging decisions instead of enqueueing")
		dedup = cache.NewMemoryProvider()
		intake = publish.NewLogIntake(logger)
	}

	encoder := engine.NewHashingEncoder(cfg.Engine.EmbeddingDims)
	index, err := a.playbookIndex(encoder, searchCache)
	if err != nil {
		return nil, err
	}

	synth, err := a.synthesizer()
	if err != nil {
		return nil, err
	}

	a.hub = ws.NewHub()
	a.closers = append(a.closers, a.hub.Stop)

	publisher, err := publish.New(publish.Options{
		Dedup:    dedup,
		DedupTTL: cfg.Publisher.DedupTTL,
		Intake:   intake,
		Auditor:  auditStore,
		Feed:     a.hub,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	last, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	a.closers = append(a.closers, func() { _ = last.Close() })

	a.pipeline, err = engine.NewPipeline(engine.Dependencies{
		Logger:      logger,
		Reader:      telemetry.NewReader(telemetryStore, cfg.Engine.Window, cfg.Engine.Regions, logger),
		Incidents:   telemetryStore,
		Encoder:     encoder,
		Retriever:   engine.NewRetriever(index, logger),
		Synthesizer: synth,
		Validator:   engine.NewValidator(cfg.ConfidenceFloor(), cfg.Engine.TopK),
		State:       last,
		Publisher:   publisher,
		TopK:        cfg.Engine.TopK,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, driver, dsn string, timeout time.Duration) (store, error) {
	switch driver {
	case "postgres":
		pool, err := repo.NewPostgresPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		s := repo.NewPostgresStore(pool, timeout)
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "sqlite":
		s, err := repo.NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func (a *app) playbookIndex(encoder *engine.HashingEncoder, searchCache cache.Lookup) (engine.VectorIndex, error) {
	cfg := a.cfg
	switch {
	case cfg.Weaviate.Endpoint != "":
		return repo.NewWeaviateRepo(cfg.Weaviate.Endpoint, cfg.Weaviate.APIKey, cfg.Weaviate.Class, cfg.Weaviate.Timeout, searchCache, cfg.Cache.PlaybooksTTL), nil
	case cfg.Playbooks.Path != "":
		idx, err := repo.LoadPlaybookFile(cfg.Playbooks.Path, encoder)
		if err != nil {
			return nil, fmt.Errorf("playbooks: %w", err)
		}
		a.logger.Info("using local playbook index", slog.String("path", cfg.Playbooks.Path), slog.Int("entries", len(idx.Entries())))
		return idx, nil
	default:
		a.logger.Warn("no playbook index configured: every decision will carry the low-context marker")
		return nil, nil
	}
}

func (a *app) synthesizer() (engine.Synthesizer, error) {
	cfg := a.cfg
	thresholds := *cfg.Engine.Thresholds
	switch cfg.Inference.Provider {
	case "gemini":
		if cfg.Inference.APIKey == "" {
			return nil, errors.New("inference.apiKey is required for the gemini provider")
		}
		client := inference.NewGeminiClient(cfg.Inference.Endpoint, cfg.Inference.Model, cfg.Inference.APIKey, cfg.Inference.Timeout)
		return engine.NewLLMSynthesizer(client, engine.NewPromptBuilder(thresholds, cfg.Engine.MaxPromptBytes), engine.LLMOptions{
			Temperature: cfg.Inference.Temperature,
			MaxTokens:   cfg.Inference.MaxTokens,
			Timeout:     cfg.Inference.Timeout,
		}, a.logger), nil
	case "rules":
		return engine.NewRuleSynthesizer(cfg.Inference.RulesPath, thresholds, a.logger)
	default:
		return nil, fmt.Errorf("unsupported inference provider %q", cfg.Inference.Provider)
	}
}

// loadPlaybooks loads the configured playbook file for syncing to Weaviate.
func loadPlaybooks(cfg *config.Config, encoder *engine.HashingEncoder) ([]models.PlaybookEntry, error) {
	if cfg.Playbooks.Path == "" {
		return nil, errors.New("playbooks.path is required")
	}
	idx, err := repo.LoadPlaybookFile(cfg.Playbooks.Path, encoder)
	if err != nil {
		return nil, err
	}
	return idx.Entries(), nil
}
