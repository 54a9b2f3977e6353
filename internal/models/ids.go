package models

import (
	"strings"

	"github.com/google/uuid"
)

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

// NewJobID returns a job identifier of the form "job-<12 hex chars>"
func NewJobID() string {
	return "job-" + shortHex(12)
}

// NewDocumentID returns a document identifier of the form "doc-<12 hex chars>"
func NewDocumentID() string {
	return "doc-" + shortHex(12)
}

// NewChunkID returns a chunk identifier of the form "chunk-<12 hex chars>"
func NewChunkID() string {
	return "chunk-" + shortHex(12)
}

// NewEmbeddingID returns an embedding identifier of the form "emb-<12 hex chars>"
func NewEmbeddingID() string {
	return "emb-" + shortHex(12)
}

// NewAPIDocumentID returns an identifier for documents built from API items
func NewAPIDocumentID() string {
	return "api-" + shortHex(12)
}

// NewDBDocumentID returns an identifier for documents built from database rows.
// The row's own id is appended when present so reruns stay traceable.
func NewDBDocumentID(rowID string) string {
	id := "db-" + shortHex(12)
	if rowID != "" {
		id += "-" + rowID
	}
	return id
}

// NewCorrelationID returns a full UUID used to correlate a job's events
func NewCorrelationID() string {
	return uuid.New().String()
}
