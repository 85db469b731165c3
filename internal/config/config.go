// Package config provides configuration loading for the structuring pipeline.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Queue         QueueConfig         `yaml:"queue"`
	Cache         CacheConfig         `yaml:"cache"`
	Runner        RunnerConfig        `yaml:"runner"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Layout        LayoutConfig        `yaml:"layout"`
	Structuring   StructuringConfig   `yaml:"structuring"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Blob          BlobConfig          `yaml:"blob"`
	Assets        AssetsConfig        `yaml:"assets"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// QueueConfig holds job queue settings.
type QueueConfig struct {
	Driver string      `yaml:"driver"` // redis or memory
	Key    string      `yaml:"key"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig holds structuring response cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Prefix     string        `yaml:"prefix"`
}

// RunnerConfig holds job runner settings.
type RunnerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	WorkDir         string        `yaml:"work_dir"`
	MaxDownloadMB   int64         `yaml:"max_download_mb"`
}

// ExtractionConfig holds extractor settings.
type ExtractionConfig struct {
	RasterDPI float64     `yaml:"raster_dpi"`
	Table     TablePolicy `yaml:"table"`
}

// TablePolicy tunes the table-region acceptance heuristics.
type TablePolicy struct {
	TableClasses     []int    `yaml:"table_classes"`
	MinScore         float64  `yaml:"min_score"`
	MinTextDensity   float64  `yaml:"min_text_density"`
	MaxTextDensity   float64  `yaml:"max_text_density"`
	MinChars         int      `yaml:"min_chars"`
	AuthorZone       float64  `yaml:"author_zone"`
	AuthorKeywords   []string `yaml:"author_keywords"`
	OverlapThreshold float64  `yaml:"overlap_threshold"`
}

// LayoutConfig holds layout detector settings.
type LayoutConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StructuringConfig holds orchestrator settings.
type StructuringConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	BatchChars    int           `yaml:"batch_chars"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	HeadingPolicy string        `yaml:"heading_policy"` // first_page_only or keep_all
}

// LLMConfig holds structuring service settings.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openrouter or gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"` // openrouter or gemini
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BlobConfig holds blob store settings.
type BlobConfig struct {
	Driver    string `yaml:"driver"` // local or s3
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// AssetsConfig holds local asset publishing and serving settings.
type AssetsConfig struct {
	Dir        string `yaml:"dir"`
	PublicPath string `yaml:"public_path"`
	Addr       string `yaml:"addr"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "/tmp/pdf-structurer.db",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Queue: QueueConfig{
			Driver: "redis",
			Key:    "pdf_jobs",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 2000,
			Prefix:     "pdfs:",
		},
		Runner: RunnerConfig{
			PollInterval:    2 * time.Second,
			ErrorBackoff:    5 * time.Second,
			DownloadTimeout: 30 * time.Second,
			MaxDownloadMB:   100,
		},
		Extraction: ExtractionConfig{
			RasterDPI: 144,
			Table:     DefaultTablePolicy(),
		},
		Layout: LayoutConfig{
			Timeout: 60 * time.Second,
		},
		Structuring: StructuringConfig{
			MaxConcurrent: 3,
			BatchChars:    1200,
			CallTimeout:   60 * time.Second,
			HeadingPolicy: "first_page_only",
		},
		LLM: LLMConfig{
			Provider:    "openrouter",
			Model:       "google/gemini-2.5-flash",
			BaseURL:     "https://openrouter.ai/api/v1",
			Temperature: 0.1,
			MaxTokens:   4096,
			MaxRetries:  3,
		},
		Embedding: EmbeddingConfig{
			Enabled:   true,
			Provider:  "openrouter",
			Model:     "google/gemini-embedding-001",
			BaseURL:   "https://openrouter.ai/api/v1",
			Dimension: 768,
			BatchSize: 64,
			Timeout:   30 * time.Second,
		},
		Blob: BlobConfig{
			Driver: "local",
			Prefix: "pdf-assets",
		},
		Assets: AssetsConfig{
			Dir:        "./public/pdf-assets",
			PublicPath: "/pdf-assets",
			Addr:       ":8086",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// DefaultTablePolicy returns the empirically tuned table heuristics.
func DefaultTablePolicy() TablePolicy {
	return TablePolicy{
		TableClasses:     []int{3},
		MinScore:         0.5,
		MinTextDensity:   0.0005,
		MaxTextDensity:   0.5,
		MinChars:         8,
		AuthorZone:       0.3,
		AuthorKeywords:   []string{"university", "institute", "department", "college", "laboratory", "school of", "corresponding author", "email", "e-mail", "affiliation"},
		OverlapThreshold: 0.7,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if c.Queue.Driver != "redis" && c.Queue.Driver != "memory" {
		return fmt.Errorf("invalid queue driver: %s", c.Queue.Driver)
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.LLM.Provider != "openrouter" && c.LLM.Provider != "gemini" {
		return fmt.Errorf("invalid llm provider: %s", c.LLM.Provider)
	}

	if c.Embedding.Provider != "openrouter" && c.Embedding.Provider != "gemini" {
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}

	if c.Blob.Driver != "local" && c.Blob.Driver != "s3" {
		return fmt.Errorf("invalid blob driver: %s", c.Blob.Driver)
	}

	if c.Blob.Driver == "s3" && (c.Blob.Bucket == "" || c.Blob.Region == "") {
		return fmt.Errorf("s3 blob driver requires bucket and region")
	}

	if c.Structuring.MaxConcurrent < 1 {
		return fmt.Errorf("structuring.max_concurrent must be at least 1")
	}

	if c.Structuring.BatchChars < 1 {
		return fmt.Errorf("structuring.batch_chars must be at least 1")
	}

	if c.Structuring.HeadingPolicy != "first_page_only" && c.Structuring.HeadingPolicy != "keep_all" {
		return fmt.Errorf("invalid heading policy: %s", c.Structuring.HeadingPolicy)
	}

	if c.Runner.PollInterval <= 0 || c.Runner.ErrorBackoff <= 0 {
		return fmt.Errorf("runner intervals must be positive")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Queue.Driver = "redis"
		cfg.Queue.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Queue.Redis.Password = v
	}

	if v := os.Getenv("QUEUE_KEY"); v != "" {
		cfg.Queue.Key = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		if cfg.LLM.Provider == "openrouter" {
			cfg.LLM.APIKey = v
		}
		if cfg.Embedding.Provider == "openrouter" {
			cfg.Embedding.APIKey = v
		}
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if cfg.LLM.Provider == "gemini" {
			cfg.LLM.APIKey = v
		}
		if cfg.Embedding.Provider == "gemini" {
			cfg.Embedding.APIKey = v
		}
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	if v := os.Getenv("EMBEDDING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Embedding.Enabled = b
		}
	}

	if v := os.Getenv("LAYOUT_URL"); v != "" {
		cfg.Layout.URL = v
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Blob.Driver = "s3"
		cfg.Blob.Bucket = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Blob.Region = v
	}

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Blob.AccessKey = v
	}

	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Blob.SecretKey = v
	}

	if v := os.Getenv("ASSETS_DIR"); v != "" {
		cfg.Assets.Dir = v
	}

	if v := os.Getenv("STRUCTURING_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Structuring.MaxConcurrent = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
