package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/storymerge/internal/ai"
	"horse.fit/storymerge/internal/cache"
	"horse.fit/storymerge/internal/cli"
	"horse.fit/storymerge/internal/config"
	"horse.fit/storymerge/internal/db"
	"horse.fit/storymerge/internal/dedup"
	"horse.fit/storymerge/internal/ingest"
	"horse.fit/storymerge/internal/logging"
	"horse.fit/storymerge/internal/metrics"
)

// runtime holds the wired collaborators shared by the write commands and
// the API server.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *db.Pool
	verdicts *cache.VerdictCache
	oracle   *ai.Client
	recorder *metrics.Recorder
	engine   *dedup.Engine
	ingester *ingest.Service
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, fmt.Errorf("load dedup thresholds: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		recorder: metrics.NewRecorder(),
	}

	opts := dedup.Options{
		Store:      pool.Stories(),
		Decisions:  pool,
		Recorder:   rt.recorder,
		Thresholds: thresholds,
		Logger:     logger.With().Str("component", "dedup").Logger(),
	}

	if cfg.OracleEnabled() {
		client, err := ai.NewClient(ai.Options{
			Endpoint: cfg.AIEndpoint,
			Model:    cfg.AIModel,
			APIKey:   cfg.AIAPIKey,
			Timeout:  cfg.AIRequestTimeout,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("init AI client: %w", err)
		}
		rt.oracle = client
		opts.Generator = client
	} else {
		logger.Warn().Msg("AI_ENDPOINT is empty; duplicate verification falls back to lexical heuristics")
	}

	if cfg.RedisAddr != "" {
		verdicts, err := cache.NewVerdictCache(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisVerdictTTL,
		})
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("verdict cache unavailable; continuing without it")
		} else {
			rt.verdicts = verdicts
			opts.Cache = verdicts
		}
	}

	engine, err := dedup.NewEngine(opts)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init dedup engine: %w", err)
	}
	rt.engine = engine
	rt.ingester = ingest.NewService(engine, ingest.Options{
		Concurrency:    cfg.IngestConcurrency,
		DetectLanguage: cfg.IngestDetectLanguage,
		Recorder:       rt.recorder,
		Logger:         logger.With().Str("component", "ingest").Logger(),
	})
	return rt, nil
}

func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.verdicts != nil {
		_ = rt.verdicts.Close()
	}
	if rt.pool != nil {
		_ = rt.pool.Close()
	}
}

// commandContext bounds a command; zero or negative timeouts mean no bound.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
