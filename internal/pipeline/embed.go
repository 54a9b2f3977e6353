package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
	"github.com/Boswecw/rake/internal/retry"
)

// Embedder produces embedding vectors for a batch of texts
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// modelDimensions maps supported embedding models to their vector width
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// ModelDimension returns the expected vector width for model, 0 if unknown
func ModelDimension(model string) int {
	return modelDimensions[model]
}

// EmbedStage generates embeddings for chunks in batches
type EmbedStage struct {
	embedder  Embedder
	batchSize int
	retrier   *retry.Harness
	events    Events
	logger    observability.Logger
}

// NewEmbedStage creates the stage
func NewEmbedStage(embedder Embedder, batchSize int, retrier *retry.Harness, events Events, logger observability.Logger) *EmbedStage {
	if batchSize < 1 {
		batchSize = 100
	}
	return &EmbedStage{
		embedder:  embedder,
		batchSize: batchSize,
		retrier:   retrier,
		events:    events,
		logger:    logger.WithPrefix("stage-embed"),
	}
}

// Run embeds every chunk, retrying failed batches
func (s *EmbedStage) Run(ctx context.Context, job *models.Job, chunks []*models.Chunk) ([]*models.Embedding, error) {
	start := time.Now()
	model := s.embedder.Model()
	expectedDim := ModelDimension(model)

	embeddings := make([]*models.Embedding, 0, len(chunks))
	totalTokens := 0

	for batchStart := 0; batchStart < len(chunks); batchStart += s.batchSize {
		batchEnd := batchStart + s.batchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
			totalTokens += chunk.TokenCount
		}

		var vectors [][]float32
		err := s.retrier.Do(ctx, StageEmbed, job.CorrelationID, func(ctx context.Context) error {
			var embedErr error
			vectors, embedErr = s.embedder.Embed(ctx, texts)
			return embedErr
		})
		if err != nil {
			return nil, s.fail(job, fmt.Errorf("batch starting at chunk %d: %w", batchStart, err))
		}
		if len(vectors) != len(batch) {
			return nil, s.fail(job, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch)))
		}

		for i, chunk := range batch {
			if expectedDim > 0 && len(vectors[i]) != expectedDim {
				return nil, s.fail(job, fmt.Errorf("chunk %s: vector dimension %d, expected %d for %s",
					chunk.ID, len(vectors[i]), expectedDim, model))
			}

			metadata := models.CopyMetadata(chunk.Metadata)
			metadata["document_id"] = chunk.DocumentID
			metadata["chunk_position"] = chunk.Position
			metadata["embedding_dimension"] = len(vectors[i])

			embeddings = append(embeddings, &models.Embedding{
				ID:       models.NewEmbeddingID(),
				ChunkID:  chunk.ID,
				Vector:   vectors[i],
				Model:    model,
				Metadata: metadata,
				TenantID: chunk.TenantID,
			})
		}
	}

	dimension := expectedDim
	if dimension == 0 && len(embeddings) > 0 {
		dimension = len(embeddings[0].Vector)
	}
	s.events.EmitPhaseCompleted(job.CorrelationID, job.ID, StageEmbed, 4,
		float64(time.Since(start).Milliseconds()), len(embeddings),
		map[string]interface{}{
			"chunk_count":      len(chunks),
			"embedding_count":  len(embeddings),
			"total_tokens":     totalTokens,
			"model":            model,
			"vector_dimension": dimension,
		})

	return embeddings, nil
}

func (s *EmbedStage) fail(job *models.Job, err error) error {
	s.logger.Error("Embed stage failed", map[string]interface{}{
		"job_id": job.ID,
		"error":  err.Error(),
	})
	s.events.EmitJobFailed(job.CorrelationID, job.ID, StageEmbed, "EmbedStageError", err.Error(), job.RetryCount)
	return NewStageError(StageEmbed, err)
}
