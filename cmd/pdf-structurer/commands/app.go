package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/blob"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/cache"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/embedding"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/layout"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/llm"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/queue"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/runner"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/structuring"
)

// app holds the configuration and the lazily opened connections shared by
// subcommands.
type app struct {
	cfg    *config.Config
	logger *observability.Logger

	db      *storage.DB
	redis   *redis.Client
	closers []func() error
}

// newApp loads configuration and builds the logger. Interactive commands log
// to the console; the worker keeps the configured format.
func newApp(console bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	format := cfg.Observability.LogFormat
	if console {
		format = "console"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Close failed")
		}
	}
}

// openDB opens and migrates the database once.
func (a *app) openDB(ctx context.Context) (*storage.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.Open(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		a.logger.Info().Int("count", len(applied)).Msg("Applied migrations")
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	rc := a.cfg.Queue.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *app) queue(ctx context.Context) (queue.Queue, error) {
	if a.cfg.Queue.Driver == "memory" {
		a.logger.Warn().Msg("Using in-process queue; jobs are not shared between processes")
		return queue.NewMemoryQueue(), nil
	}
	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return queue.NewRedisQueue(client, a.cfg.Queue.Key), nil
}

// completer builds the structuring service client, wrapped in the response
// cache when one is configured.
func (a *app) completer(ctx context.Context) (llm.Completer, error) {
	lc := a.cfg.LLM
	retry := llm.DefaultRetryConfig()
	if lc.MaxRetries > 0 {
		retry.MaxRetries = lc.MaxRetries
	}
	llmCfg := llm.Config{
		APIKey:      lc.APIKey,
		Model:       lc.Model,
		BaseURL:     lc.BaseURL,
		Temperature: lc.Temperature,
		MaxTokens:   lc.MaxTokens,
		Retry:       retry,
	}

	var completer llm.Completer
	switch lc.Provider {
	case "gemini":
		g, err := llm.NewGeminiClient(ctx, llmCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		completer = g
	default:
		c, err := llm.NewClient(llmCfg, a.logger)
		if err != nil {
			return nil, err
		}
		completer = c
	}

	var store cache.Client
	switch a.cfg.Cache.Driver {
	case "memory":
		store = cache.NewMemoryClient(a.cfg.Cache.MaxEntries)
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Response cache unavailable, continuing without it")
			return completer, nil
		}
		store = cache.WrapRedis(client, a.cfg.Cache.Prefix)
	default:
		return completer, nil
	}
	cached := llm.NewCachedCompleter(completer, store, a.cfg.Cache.TTL, lc.Model, a.logger)
	cached.Accept = structuring.Decodable
	return cached, nil
}

// embedder returns nil when embeddings are disabled or unconfigured.
func (a *app) embedder(ctx context.Context) (embedding.Embedder, error) {
	ec := a.cfg.Embedding
	if !ec.Enabled {
		return nil, nil
	}
	if ec.APIKey == "" {
		a.logger.Warn().Msg("Embedding API key not set, embeddings disabled")
		return nil, nil
	}
	embCfg := embedding.Config{
		APIKey:    ec.APIKey,
		Model:     ec.Model,
		BaseURL:   ec.BaseURL,
		Dimension: ec.Dimension,
		Timeout:   ec.Timeout,
	}
	if ec.Provider == "gemini" {
		g, err := embedding.NewGeminiClient(ctx, embCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	}
	return embedding.NewClient(embCfg, a.logger)
}

func (a *app) publisher(ctx context.Context) (*blob.Publisher, error) {
	local := blob.NewLocalStore(a.cfg.Assets.Dir, a.cfg.Assets.PublicPath)
	if a.cfg.Blob.Driver != "s3" {
		return blob.NewPublisher(nil, local, a.cfg.Blob.Prefix, a.logger), nil
	}
	remote, err := blob.NewS3Store(ctx, a.cfg.Blob)
	if err != nil {
		return nil, err
	}
	return blob.NewPublisher(remote, local, a.cfg.Blob.Prefix, a.logger), nil
}

// pipeline assembles the document processor. onPage may be nil.
func (a *app) pipeline(ctx context.Context, onPage func(page int)) (*runner.Pipeline, error) {
	completer, err := a.completer(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.embedder(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}

	sc := a.cfg.Structuring
	orchestrator := structuring.New(completer, structuring.Options{
		MaxConcurrent: sc.MaxConcurrent,
		BatchChars:    sc.BatchChars,
		CallTimeout:   sc.CallTimeout,
		HeadingPolicy: sc.HeadingPolicy,
		OnPageDone:    onPage,
	}, a.logger)

	maxSize := a.cfg.Runner.MaxDownloadMB * 1024 * 1024
	return runner.NewPipeline(runner.PipelineDeps{
		Opener:       pdf.NewFitzOpener(maxSize),
		Validator:    pdf.NewValidator(maxSize),
		Detector:     layout.New(a.cfg.Layout.URL, a.cfg.Layout.Timeout, a.logger),
		Extraction:   a.cfg.Extraction,
		Publisher:    publisher,
		Orchestrator: orchestrator,
		Embedder:     embedder,
		EmbedBatch:   a.cfg.Embedding.BatchSize,
	}, a.logger), nil
}
