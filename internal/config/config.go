// Package config handles configuration for the ingestion service
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration for the service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains the job store connection settings
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// OpenAIConfig contains embedding API settings
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	BatchSize      int    `mapstructure:"batch_size"`
	BaseURL        string `mapstructure:"base_url"`
}

// PipelineConfig contains chunking and executor settings
type PipelineConfig struct {
	MaxWorkers          int     `mapstructure:"max_workers"`
	QueueSize           int     `mapstructure:"queue_size"`
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	MinChunkSize        int     `mapstructure:"min_chunk_size"`
	ChunkingStrategy    string  `mapstructure:"chunking_strategy"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// RetryConfig contains the transient failure retry policy
type RetryConfig struct {
	Attempts int     `mapstructure:"attempts"`
	Delay    float64 `mapstructure:"delay"`
	Backoff  float64 `mapstructure:"backoff"`
}

// SourcesConfig contains per-adapter settings
type SourcesConfig struct {
	SECEdgarUserAgent      string  `mapstructure:"sec_edgar_user_agent"`
	SECEdgarRateLimit      float64 `mapstructure:"sec_edgar_rate_limit"`
	URLScrapeRateLimit     float64 `mapstructure:"url_scrape_rate_limit"`
	URLScrapeRespectRobots bool    `mapstructure:"url_scrape_respect_robots"`
	DBQueryReadOnly        bool    `mapstructure:"db_query_read_only"`
}

// VectorConfig contains the downstream vector store settings
type VectorConfig struct {
	StoreURL string `mapstructure:"store_url"`
	APIKey   string `mapstructure:"api_key"`
}

// TelemetryConfig contains the event sink settings
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
	Service string `mapstructure:"service"`
}

// SchedulerConfig contains recurring job settings
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("rake")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/configs")

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// A config file is optional; defaults and env vars carry the rest.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8002)
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.shutdown_timeout", "30s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.batch_size", 100)
	v.SetDefault("openai.base_url", "")

	v.SetDefault("pipeline.max_workers", 4)
	v.SetDefault("pipeline.queue_size", 100)
	v.SetDefault("pipeline.chunk_size", 500)
	v.SetDefault("pipeline.chunk_overlap", 50)
	v.SetDefault("pipeline.min_chunk_size", 50)
	v.SetDefault("pipeline.chunking_strategy", "token_based")
	v.SetDefault("pipeline.similarity_threshold", 0.3)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 1.0)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("sources.sec_edgar_user_agent", "")
	v.SetDefault("sources.sec_edgar_rate_limit", 0.1)
	v.SetDefault("sources.url_scrape_rate_limit", 1.0)
	v.SetDefault("sources.url_scrape_respect_robots", true)
	v.SetDefault("sources.db_query_read_only", true)

	v.SetDefault("vector.store_url", "http://localhost:8003")
	v.SetDefault("vector.api_key", "")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.db_path", "telemetry.db")
	v.SetDefault("telemetry.service", "rake")

	v.SetDefault("scheduler.enabled", false)
}

func bindEnvVars(v *viper.Viper) {
	v.AutomaticEnv()

	_ = v.BindEnv("service.port", "RAKE_PORT")
	_ = v.BindEnv("service.environment", "ENVIRONMENT")
	_ = v.BindEnv("service.log_level", "LOG_LEVEL")

	_ = v.BindEnv("database.url", "DATABASE_URL")

	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.embedding_model", "OPENAI_EMBEDDING_MODEL")
	_ = v.BindEnv("openai.batch_size", "OPENAI_BATCH_SIZE")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")

	_ = v.BindEnv("pipeline.max_workers", "MAX_WORKERS")
	_ = v.BindEnv("pipeline.chunk_size", "CHUNK_SIZE")
	_ = v.BindEnv("pipeline.chunk_overlap", "CHUNK_OVERLAP")
	_ = v.BindEnv("pipeline.chunking_strategy", "CHUNKING_STRATEGY")

	_ = v.BindEnv("retry.attempts", "RETRY_ATTEMPTS")
	_ = v.BindEnv("retry.delay", "RETRY_DELAY")
	_ = v.BindEnv("retry.backoff", "RETRY_BACKOFF")

	_ = v.BindEnv("sources.sec_edgar_user_agent", "SEC_EDGAR_USER_AGENT")
	_ = v.BindEnv("sources.sec_edgar_rate_limit", "SEC_EDGAR_RATE_LIMIT")
	_ = v.BindEnv("sources.url_scrape_rate_limit", "URL_SCRAPE_RATE_LIMIT")
	_ = v.BindEnv("sources.url_scrape_respect_robots", "URL_SCRAPE_RESPECT_ROBOTS")
	_ = v.BindEnv("sources.db_query_read_only", "DB_QUERY_READ_ONLY")

	_ = v.BindEnv("vector.store_url", "VECTOR_STORE_URL")
	_ = v.BindEnv("vector.api_key", "VECTOR_STORE_API_KEY")

	_ = v.BindEnv("telemetry.enabled", "TELEMETRY_ENABLED")
	_ = v.BindEnv("telemetry.db_path", "TELEMETRY_DB_PATH")

	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Service.Environment == "production"
}

func validate(cfg *Config) error {
	if cfg.Service.Port <= 0 || cfg.Service.Port > 65535 {
		return fmt.Errorf("invalid service port: %d", cfg.Service.Port)
	}
	if cfg.IsProduction() && cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required in production")
	}
	if cfg.OpenAI.BatchSize < 1 || cfg.OpenAI.BatchSize > 2048 {
		return fmt.Errorf("openai batch size must be between 1 and 2048, got %d", cfg.OpenAI.BatchSize)
	}
	if cfg.Pipeline.MaxWorkers < 1 || cfg.Pipeline.MaxWorkers > 32 {
		return fmt.Errorf("max workers must be between 1 and 32, got %d", cfg.Pipeline.MaxWorkers)
	}
	if cfg.Pipeline.ChunkSize < 100 || cfg.Pipeline.ChunkSize > 2000 {
		return fmt.Errorf("chunk size must be between 100 and 2000 tokens, got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.ChunkOverlap < 0 || cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkSize {
		return fmt.Errorf("chunk overlap must be non-negative and smaller than chunk size, got %d", cfg.Pipeline.ChunkOverlap)
	}
	switch cfg.Pipeline.ChunkingStrategy {
	case "token_based", "semantic", "hybrid":
	default:
		return fmt.Errorf("unknown chunking strategy %q", cfg.Pipeline.ChunkingStrategy)
	}
	if cfg.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Delay <= 0 || cfg.Retry.Backoff < 1 {
		return fmt.Errorf("retry delay must be positive and backoff at least 1")
	}
	return nil
}
