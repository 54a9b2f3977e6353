// Package vectorstore is the HTTP client for the downstream vector store
// service that persists embeddings and document records.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

const defaultTimeout = 30 * time.Second

// Config for the vector store client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the vector store REST API. It satisfies
// pipeline.VectorStore.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  observability.Logger
}

// NewClient creates the client
func NewClient(cfg Config, logger observability.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vector store base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithPrefix("vectorstore"),
	}, nil
}

type embeddingPayload struct {
	ID        string                 `json:"id"`
	ChunkID   string                 `json:"chunk_id"`
	Vector    []float32              `json:"vector"`
	Model     string                 `json:"model"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt string                 `json:"created_at"`
	TenantID  string                 `json:"tenant_id,omitempty"`
}

// StoreEmbeddings uploads a batch of embeddings and returns the store's
// response body.
func (c *Client) StoreEmbeddings(ctx context.Context, embeddings []*models.Embedding, tenantID string) (map[string]interface{}, error) {
	if len(embeddings) == 0 {
		return map[string]interface{}{"stored": 0}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	payload := make([]embeddingPayload, len(embeddings))
	for i, emb := range embeddings {
		payload[i] = embeddingPayload{
			ID:        emb.ID,
			ChunkID:   emb.ChunkID,
			Vector:    emb.Vector,
			Model:     emb.Model,
			Metadata:  emb.Metadata,
			CreatedAt: now,
			TenantID:  emb.TenantID,
		}
	}

	var result map[string]interface{}
	err := c.post(ctx, "/api/v1/embeddings/batch", map[string]interface{}{
		"embeddings": payload,
		"tenant_id":  tenantID,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to store embedding batch: %w", err)
	}

	c.logger.Debug("Stored embedding batch", map[string]interface{}{
		"count": len(embeddings),
	})
	return result, nil
}

// StoreDocument records the per-document summary after its embeddings are in
func (c *Client) StoreDocument(ctx context.Context, doc *models.StoredDocument) error {
	if err := c.post(ctx, "/api/v1/documents", doc, nil); err != nil {
		return fmt.Errorf("failed to store document %s: %w", doc.ID, err)
	}
	return nil
}

// Health checks the store's health endpoint
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector store unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
