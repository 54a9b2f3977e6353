// Package embedding generates vector embeddings for text chunks through the
// OpenAI embeddings API.
package embedding

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/Boswecw/rake/internal/observability"
)

// embeddingModels maps the configured model name to the API identifier
var embeddingModels = map[string]openai.EmbeddingModel{
	"text-embedding-3-small": openai.SmallEmbedding3,
	"text-embedding-3-large": openai.LargeEmbedding3,
	"text-embedding-ada-002": openai.AdaEmbeddingV2,
}

// SupportedModels lists the model names accepted in configuration
func SupportedModels() []string {
	return []string{
		"text-embedding-3-small",
		"text-embedding-3-large",
		"text-embedding-ada-002",
	}
}

// Config for the OpenAI client
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, for proxies and tests
	BaseURL string
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint. It satisfies
// pipeline.Embedder.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	apiID  openai.EmbeddingModel
	logger observability.Logger
}

// NewOpenAIEmbedder creates the client, rejecting unknown models up front
func NewOpenAIEmbedder(cfg Config, logger observability.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	apiID, ok := embeddingModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding model %q, supported: %v", cfg.Model, SupportedModels())
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		apiID:  apiID,
		logger: logger.WithPrefix("openai-embedder"),
	}, nil
}

// Model returns the configured model name
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed returns one vector per input text, in input order
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.apiID,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// The API is documented to preserve order, but index is authoritative.
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("openai returned embedding with index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("openai response missing embedding for input %d", i)
		}
	}

	e.logger.Debug("Generated embeddings", map[string]interface{}{
		"count": len(vectors),
		"model": e.model,
	})
	return vectors, nil
}
