package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8002, cfg.Service.Port)
	assert.Equal(t, "development", cfg.Service.Environment)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Service.ShutdownTimeout)
	assert.False(t, cfg.IsProduction())

	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)

	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, 100, cfg.OpenAI.BatchSize)

	assert.Equal(t, 4, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 100, cfg.Pipeline.QueueSize)
	assert.Equal(t, 500, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 50, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, 50, cfg.Pipeline.MinChunkSize)
	assert.Equal(t, "token_based", cfg.Pipeline.ChunkingStrategy)
	assert.Equal(t, 0.3, cfg.Pipeline.SimilarityThreshold)

	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 1.0, cfg.Retry.Delay)
	assert.Equal(t, 2.0, cfg.Retry.Backoff)

	assert.Equal(t, 0.1, cfg.Sources.SECEdgarRateLimit)
	assert.Equal(t, 1.0, cfg.Sources.URLScrapeRateLimit)
	assert.True(t, cfg.Sources.URLScrapeRespectRobots)
	assert.True(t, cfg.Sources.DBQueryReadOnly)

	assert.Equal(t, "http://localhost:8003", cfg.Vector.StoreURL)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "rake", cfg.Telemetry.Service)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("RAKE_PORT", "9100")
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("DATABASE_URL", "postgresql://rake:secret@db:5432/rake")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-large")
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("CHUNK_SIZE", "800")
	t.Setenv("CHUNK_OVERLAP", "80")
	t.Setenv("CHUNKING_STRATEGY", "hybrid")
	t.Setenv("SEC_EDGAR_USER_AGENT", "Example Corp admin@example.com")
	t.Setenv("DB_QUERY_READ_ONLY", "false")
	t.Setenv("SCHEDULER_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Service.Port)
	assert.Equal(t, "staging", cfg.Service.Environment)
	assert.Equal(t, "postgresql://rake:secret@db:5432/rake", cfg.Database.URL)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "text-embedding-3-large", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, 8, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 800, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 80, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, "hybrid", cfg.Pipeline.ChunkingStrategy)
	assert.Equal(t, "Example Corp admin@example.com", cfg.Sources.SECEdgarUserAgent)
	assert.False(t, cfg.Sources.DBQueryReadOnly)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "production requires api key",
			env:     map[string]string{"ENVIRONMENT": "production"},
			wantErr: "OPENAI_API_KEY is required",
		},
		{
			name:    "chunk size too small",
			env:     map[string]string{"CHUNK_SIZE": "10"},
			wantErr: "chunk size",
		},
		{
			name:    "chunk size too large",
			env:     map[string]string{"CHUNK_SIZE": "5000"},
			wantErr: "chunk size",
		},
		{
			name:    "overlap not smaller than chunk size",
			env:     map[string]string{"CHUNK_SIZE": "200", "CHUNK_OVERLAP": "200"},
			wantErr: "chunk overlap",
		},
		{
			name:    "too many workers",
			env:     map[string]string{"MAX_WORKERS": "64"},
			wantErr: "max workers",
		},
		{
			name:    "unknown chunking strategy",
			env:     map[string]string{"CHUNKING_STRATEGY": "recursive"},
			wantErr: "chunking strategy",
		},
		{
			name:    "bad batch size",
			env:     map[string]string{"OPENAI_BATCH_SIZE": "4096"},
			wantErr: "batch size",
		},
		{
			name:    "retry attempts below one",
			env:     map[string]string{"RETRY_ATTEMPTS": "0"},
			wantErr: "retry attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigProductionWithKey(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OPENAI_API_KEY", "sk-live")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
