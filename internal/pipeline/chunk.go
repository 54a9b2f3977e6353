package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

// Chunker turns a cleaned document into embedding-sized chunks
type Chunker interface {
	Chunk(doc *models.CleanedDocument) ([]*models.Chunk, error)
	GetStrategy() string
}

// TokenBudgetChunkerConfig sizes the token-budget chunker
type TokenBudgetChunkerConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	MinChunkSize      int
	RespectParagraphs bool
	SplitSentences    bool
}

// DefaultTokenBudgetChunkerConfig matches the service defaults
func DefaultTokenBudgetChunkerConfig() TokenBudgetChunkerConfig {
	return TokenBudgetChunkerConfig{
		ChunkSize:         500,
		ChunkOverlap:      50,
		MinChunkSize:      50,
		RespectParagraphs: true,
		SplitSentences:    true,
	}
}

// TokenBudgetChunker accumulates paragraphs (or sentences) into chunks that
// stay under a token budget, carrying a small overlap between chunks.
type TokenBudgetChunker struct {
	config  TokenBudgetChunkerConfig
	counter TokenCounter
}

// NewTokenBudgetChunker creates the chunker. counter may be nil, which
// selects the length estimator.
func NewTokenBudgetChunker(config TokenBudgetChunkerConfig, counter TokenCounter) *TokenBudgetChunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 500
	}
	if config.MinChunkSize < 0 {
		config.MinChunkSize = 0
	}
	if counter == nil {
		counter = EstimatorCounter{}
	}
	return &TokenBudgetChunker{config: config, counter: counter}
}

var _ Chunker = (*TokenBudgetChunker)(nil)

// GetStrategy implements Chunker
func (c *TokenBudgetChunker) GetStrategy() string { return "token_based" }

// Chunk implements Chunker
func (c *TokenBudgetChunker) Chunk(doc *models.CleanedDocument) ([]*models.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is nil")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, nil
	}

	var segments []string
	switch {
	case c.config.RespectParagraphs:
		segments = SplitParagraphs(doc.Content)
	case c.config.SplitSentences:
		segments = SplitSentences(doc.Content)
	default:
		segments = []string{doc.Content}
	}

	b := &chunkBuilder{
		chunker: c,
		doc:     doc,
	}

	var current []string
	currentTokens := 0
	charOffset := 0
	chunkStart := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		b.emit(strings.Join(current, "\n\n"), chunkStart)
		// The tail of the flushed chunk seeds the next one.
		keep := len(current) / 4
		if keep < 1 {
			keep = 1
		}
		tail := current[len(current)-keep:]
		current = append([]string{}, tail...)
		currentTokens = 0
		for _, seg := range tail {
			currentTokens += c.counter.Count(seg)
		}
		chunkStart = charOffset
	}

	for _, segment := range segments {
		segTokens := c.counter.Count(segment)

		if segTokens > c.config.ChunkSize {
			if len(current) > 0 {
				b.emit(strings.Join(current, "\n\n"), chunkStart)
				current = nil
				currentTokens = 0
			}
			b.emitOversized(segment, charOffset)
			charOffset += len(segment) + 2
			chunkStart = charOffset
			continue
		}

		if currentTokens+segTokens > c.config.ChunkSize && len(current) > 0 {
			flush()
		}
		if len(current) == 0 {
			chunkStart = charOffset
		}
		current = append(current, segment)
		currentTokens += segTokens
		charOffset += len(segment) + 2
	}

	// The trailing chunk is dropped when it falls under the minimum;
	// everything before it was already emitted at full size.
	if len(current) > 0 && currentTokens >= c.config.MinChunkSize {
		b.emit(strings.Join(current, "\n\n"), chunkStart)
	}

	return b.chunks, nil
}

// chunkBuilder collects emitted chunks with sequential positions
type chunkBuilder struct {
	chunker *TokenBudgetChunker
	doc     *models.CleanedDocument
	chunks  []*models.Chunk
}

func (b *chunkBuilder) emit(content string, startChar int) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	c := b.chunker
	metadata := models.CopyMetadata(b.doc.Metadata)
	metadata["chunk_strategy"] = c.GetStrategy()
	metadata["chunk_size_tokens"] = c.config.ChunkSize
	metadata["overlap_tokens"] = c.config.ChunkOverlap

	b.chunks = append(b.chunks, &models.Chunk{
		ID:         models.NewChunkID(),
		DocumentID: b.doc.ID,
		Content:    content,
		Metadata:   metadata,
		Position:   len(b.chunks),
		TokenCount: c.counter.Count(content),
		StartChar:  startChar,
		EndChar:    startChar + len(content),
		TenantID:   b.doc.TenantID,
	})
}

// emitOversized splits a segment larger than the whole budget. Sentences are
// packed greedily with a sentence-level overlap; a segment with no sentence
// boundaries falls back to a fixed character stride.
func (b *chunkBuilder) emitOversized(segment string, baseOffset int) {
	c := b.chunker
	sentences := SplitSentences(segment)

	if len(sentences) <= 1 {
		stride := c.config.ChunkSize * 4
		for start := 0; start < len(segment); start += stride {
			end := start + stride
			if end > len(segment) {
				end = len(segment)
			}
			b.emit(segment[start:end], baseOffset+start)
		}
		return
	}

	overlapCount := c.config.ChunkOverlap / 4
	var current []string
	currentTokens := 0
	offset := baseOffset

	for _, sentence := range sentences {
		tokens := c.counter.Count(sentence)
		if currentTokens+tokens > c.config.ChunkSize && len(current) > 0 {
			b.emit(strings.Join(current, " "), offset)
			keep := overlapCount
			if keep > len(current) {
				keep = len(current)
			}
			if keep > 0 {
				current = append([]string{}, current[len(current)-keep:]...)
			} else {
				current = nil
			}
			currentTokens = 0
			for _, s := range current {
				currentTokens += c.counter.Count(s)
			}
		}
		current = append(current, sentence)
		currentTokens += tokens
		offset += len(sentence) + 1
	}
	if len(current) > 0 {
		b.emit(strings.Join(current, " "), offset)
	}
}

// ChunkStage splits cleaned documents with the configured chunker
type ChunkStage struct {
	chunker Chunker
	events  Events
	logger  observability.Logger
}

// NewChunkStage creates the stage
func NewChunkStage(chunker Chunker, events Events, logger observability.Logger) *ChunkStage {
	return &ChunkStage{
		chunker: chunker,
		events:  events,
		logger:  logger.WithPrefix("stage-chunk"),
	}
}

// Run chunks every document and validates the results
func (s *ChunkStage) Run(ctx context.Context, job *models.Job, docs []*models.CleanedDocument) ([]*models.Chunk, error) {
	start := time.Now()

	var chunks []*models.Chunk
	totalTokens := 0
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return nil, NewStageError(StageChunk, ctx.Err())
		default:
		}

		docChunks, err := s.chunker.Chunk(doc)
		if err != nil {
			s.events.EmitJobFailed(job.CorrelationID, job.ID, StageChunk, "ChunkStageError", err.Error(), job.RetryCount)
			return nil, NewStageError(StageChunk, err)
		}
		for _, chunk := range docChunks {
			if err := chunk.Validate(); err != nil {
				s.events.EmitJobFailed(job.CorrelationID, job.ID, StageChunk, "ChunkStageError", err.Error(), job.RetryCount)
				return nil, NewStageError(StageChunk, err)
			}
			totalTokens += chunk.TokenCount
		}
		chunks = append(chunks, docChunks...)
	}

	if len(chunks) == 0 {
		err := fmt.Errorf("no chunks produced from %d documents", len(docs))
		s.events.EmitJobFailed(job.CorrelationID, job.ID, StageChunk, "ChunkStageError", err.Error(), job.RetryCount)
		return nil, NewStageError(StageChunk, err)
	}

	avgChunkSize := 0
	if len(chunks) > 0 {
		avgChunkSize = totalTokens / len(chunks)
	}
	s.events.EmitPhaseCompleted(job.CorrelationID, job.ID, StageChunk, 3,
		float64(time.Since(start).Milliseconds()), len(chunks),
		map[string]interface{}{
			"document_count":      len(docs),
			"chunk_count":         len(chunks),
			"total_tokens":        totalTokens,
			"avg_chunk_size":      avgChunkSize,
			"chunks_per_document": float64(len(chunks)) / float64(len(docs)),
		})

	return chunks, nil
}
