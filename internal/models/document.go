// Package models defines the document lifecycle and job types shared by the
// pipeline stages, the job store and the HTTP API.
package models

import (
	"fmt"
	"time"
)

// RawDocument is a document as fetched from a source, before cleaning
type RawDocument struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	URL       string                 `json:"url,omitempty"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	FetchedAt time.Time              `json:"fetched_at"`
	TenantID  string                 `json:"tenant_id,omitempty"`
}

// Validate checks the invariants that hold for every fetched document
func (d *RawDocument) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.Source == "" {
		return fmt.Errorf("document source is required")
	}
	if d.Content == "" {
		return fmt.Errorf("document %s has empty content", d.ID)
	}
	return nil
}

// CleanedDocument is a document after text normalization
type CleanedDocument struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	URL       string                 `json:"url,omitempty"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	FetchedAt time.Time              `json:"fetched_at"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	WordCount int                    `json:"word_count"`
	CharCount int                    `json:"char_count"`
}

// Chunk is a contiguous piece of a cleaned document sized for embedding
type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Position   int                    `json:"position"`
	TokenCount int                    `json:"token_count"`
	StartChar  int                    `json:"start_char"`
	EndChar    int                    `json:"end_char"`
	TenantID   string                 `json:"tenant_id,omitempty"`
}

// Validate checks the structural invariants of a chunk
func (c *Chunk) Validate() error {
	if c.Position < 0 {
		return fmt.Errorf("chunk %s: position must be non-negative", c.ID)
	}
	if c.TokenCount < 1 {
		return fmt.Errorf("chunk %s: token count must be at least 1", c.ID)
	}
	if c.StartChar < 0 {
		return fmt.Errorf("chunk %s: start_char must be non-negative", c.ID)
	}
	if c.EndChar <= c.StartChar {
		return fmt.Errorf("chunk %s: end_char must be greater than start_char", c.ID)
	}
	return nil
}

// Embedding is a vector produced for a chunk
type Embedding struct {
	ID       string                 `json:"id"`
	ChunkID  string                 `json:"chunk_id"`
	Vector   []float32              `json:"vector"`
	Model    string                 `json:"model"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	TenantID string                 `json:"tenant_id,omitempty"`
}

// StoredDocument is the per-document record sent to the vector store
type StoredDocument struct {
	ID             string                 `json:"id"`
	Source         string                 `json:"source"`
	URL            string                 `json:"url,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ChunkCount     int                    `json:"chunk_count"`
	EmbeddingCount int                    `json:"embedding_count"`
	Status         string                 `json:"status"`
	TenantID       string                 `json:"tenant_id,omitempty"`
}

// CopyMetadata returns a shallow copy of a metadata map, never nil
func CopyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
