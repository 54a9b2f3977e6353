package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

// VectorStore is the downstream system that persists embeddings and
// per-document metadata
type VectorStore interface {
	StoreEmbeddings(ctx context.Context, embeddings []*models.Embedding, tenantID string) (map[string]interface{}, error)
	StoreDocument(ctx context.Context, doc *models.StoredDocument) error
	Health(ctx context.Context) error
}

// StoreStage pushes embeddings and document records to the vector store
type StoreStage struct {
	store     VectorStore
	batchSize int
	events    Events
	logger    observability.Logger
}

// NewStoreStage creates the stage
func NewStoreStage(store VectorStore, batchSize int, events Events, logger observability.Logger) *StoreStage {
	if batchSize < 1 {
		batchSize = 100
	}
	return &StoreStage{
		store:     store,
		batchSize: batchSize,
		events:    events,
		logger:    logger.WithPrefix("stage-store"),
	}
}

// Run uploads embeddings in batches, then a StoredDocument per source
// document. Returns the stored documents.
func (s *StoreStage) Run(ctx context.Context, job *models.Job, docs []*models.CleanedDocument, embeddings []*models.Embedding) ([]*models.StoredDocument, error) {
	start := time.Now()

	var storeResult map[string]interface{}
	for batchStart := 0; batchStart < len(embeddings); batchStart += s.batchSize {
		batchEnd := batchStart + s.batchSize
		if batchEnd > len(embeddings) {
			batchEnd = len(embeddings)
		}
		result, err := s.store.StoreEmbeddings(ctx, embeddings[batchStart:batchEnd], job.TenantID)
		if err != nil {
			return nil, s.fail(job, fmt.Errorf("embedding batch starting at %d: %w", batchStart, err))
		}
		storeResult = result
	}

	// Group embeddings by the document they came from.
	byDocument := make(map[string][]*models.Embedding)
	for _, emb := range embeddings {
		docID, _ := emb.Metadata["document_id"].(string)
		if docID == "" {
			return nil, s.fail(job, fmt.Errorf("embedding %s has no document_id", emb.ID))
		}
		byDocument[docID] = append(byDocument[docID], emb)
	}

	docsByID := make(map[string]*models.CleanedDocument, len(docs))
	for _, doc := range docs {
		docsByID[doc.ID] = doc
	}

	docIDs := make([]string, 0, len(byDocument))
	for id := range byDocument {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	stored := make([]*models.StoredDocument, 0, len(docIDs))
	totalChunks := 0
	for _, docID := range docIDs {
		group := byDocument[docID]
		chunkIDs := make(map[string]bool, len(group))
		for _, emb := range group {
			chunkIDs[emb.ChunkID] = true
		}
		totalChunks += len(chunkIDs)

		doc := &models.StoredDocument{
			ID:             docID,
			Source:         job.Source,
			ChunkCount:     len(chunkIDs),
			EmbeddingCount: len(group),
			Status:         "completed",
			TenantID:       job.TenantID,
		}
		if src, ok := docsByID[docID]; ok {
			doc.URL = src.URL
			doc.Metadata = src.Metadata
		}

		if err := s.store.StoreDocument(ctx, doc); err != nil {
			return nil, s.fail(job, fmt.Errorf("document %s: %w", docID, err))
		}
		stored = append(stored, doc)
	}

	s.events.EmitPhaseCompleted(job.CorrelationID, job.ID, StageStore, 5,
		float64(time.Since(start).Milliseconds()), len(stored),
		map[string]interface{}{
			"document_count":   len(stored),
			"total_chunks":     totalChunks,
			"total_embeddings": len(embeddings),
			"store_result":     storeResult,
		})

	return stored, nil
}

func (s *StoreStage) fail(job *models.Job, err error) error {
	s.logger.Error("Store stage failed", map[string]interface{}{
		"job_id": job.ID,
		"error":  err.Error(),
	})
	s.events.EmitJobFailed(job.CorrelationID, job.ID, StageStore, "StoreStageError", err.Error(), job.RetryCount)
	return NewStageError(StageStore, err)
}
