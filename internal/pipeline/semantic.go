package pipeline

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/Boswecw/rake/internal/models"
)

// Chunking strategy names accepted in job requests
const (
	StrategyTokenBased = "token_based"
	StrategySemantic   = "semantic"
	StrategyHybrid     = "hybrid"
)

// SentenceEncoder maps sentences to vectors for boundary detection
type SentenceEncoder interface {
	Encode(sentence string) []float64
}

// HashedTFEncoder is a deterministic lexical encoder: words are hashed into
// a fixed number of buckets and counted. Adjacent sentences about the same
// topic share terms and score high cosine similarity; a topic shift drops it.
type HashedTFEncoder struct {
	dims int
}

// NewHashedTFEncoder creates the encoder. dims <= 0 selects the default.
func NewHashedTFEncoder(dims int) *HashedTFEncoder {
	if dims <= 0 {
		dims = 256
	}
	return &HashedTFEncoder{dims: dims}
}

// Encode implements SentenceEncoder
func (e *HashedTFEncoder) Encode(sentence string) []float64 {
	vec := make([]float64, e.dims)
	for _, word := range strings.Fields(strings.ToLower(sentence)) {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%e.dims]++
	}
	return vec
}

// CosineSimilarity computes the cosine of two vectors; zero vectors score 0
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SemanticChunkerConfig sizes the semantic/hybrid chunker
type SemanticChunkerConfig struct {
	Strategy            string
	ChunkSize           int
	SimilarityThreshold float64
}

// SemanticChunker splits documents at topic boundaries detected from the
// similarity of adjacent sentence vectors. The hybrid strategy combines the
// hard token limit with soft semantic boundaries.
type SemanticChunker struct {
	config  SemanticChunkerConfig
	encoder SentenceEncoder
	counter TokenCounter
}

// NewSemanticChunker creates the chunker. encoder and counter may be nil,
// selecting the hashed term-frequency encoder and the length estimator.
func NewSemanticChunker(config SemanticChunkerConfig, encoder SentenceEncoder, counter TokenCounter) (*SemanticChunker, error) {
	switch config.Strategy {
	case StrategySemantic, StrategyHybrid:
	case "":
		config.Strategy = StrategyHybrid
	default:
		return nil, fmt.Errorf("unsupported semantic strategy %q", config.Strategy)
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 500
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.3
	}
	if encoder == nil {
		encoder = NewHashedTFEncoder(0)
	}
	if counter == nil {
		counter = EstimatorCounter{}
	}
	return &SemanticChunker{config: config, encoder: encoder, counter: counter}, nil
}

var _ Chunker = (*SemanticChunker)(nil)

// GetStrategy implements Chunker
func (c *SemanticChunker) GetStrategy() string { return c.config.Strategy }

// Chunk implements Chunker
func (c *SemanticChunker) Chunk(doc *models.CleanedDocument) ([]*models.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is nil")
	}
	sentences := SplitSentences(doc.Content)
	if len(sentences) == 0 {
		return nil, nil
	}

	// boundaries[i] is true when a topic shift follows sentence i.
	similarities := make([]float64, len(sentences))
	boundaries := make([]bool, len(sentences))
	prev := c.encoder.Encode(sentences[0])
	for i := 1; i < len(sentences); i++ {
		cur := c.encoder.Encode(sentences[i])
		sim := CosineSimilarity(prev, cur)
		similarities[i-1] = sim
		boundaries[i-1] = sim < c.config.SimilarityThreshold
		prev = cur
	}

	if c.config.Strategy == StrategySemantic {
		return c.chunkSemantic(doc, sentences, boundaries, similarities), nil
	}
	return c.chunkHybrid(doc, sentences, boundaries, similarities), nil
}

// chunkSemantic splits at every boundary, with a hard safety limit at
// 1.5x the chunk size.
func (c *SemanticChunker) chunkSemantic(doc *models.CleanedDocument, sentences []string, boundaries []bool, similarities []float64) []*models.Chunk {
	var chunks []*models.Chunk
	var current []string
	currentTokens := 0
	safetyLimit := int(1.5 * float64(c.config.ChunkSize))

	for i, sentence := range sentences {
		current = append(current, sentence)
		currentTokens += c.counter.Count(sentence)

		atBoundary := i < len(boundaries) && boundaries[i]
		overLimit := currentTokens > safetyLimit
		if (atBoundary || overLimit) && i < len(sentences)-1 {
			reason := "semantic_boundary"
			if overLimit && !atBoundary {
				reason = "token_limit"
			}
			chunks = c.appendChunk(chunks, doc, current, currentTokens, reason, similarities[i])
			current = nil
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		chunks = c.appendChunk(chunks, doc, current, currentTokens, "document_end", -1)
	}
	return chunks
}

// chunkHybrid enforces the token budget first and takes semantic boundaries
// once a chunk is at least 70% full.
func (c *SemanticChunker) chunkHybrid(doc *models.CleanedDocument, sentences []string, boundaries []bool, similarities []float64) []*models.Chunk {
	var chunks []*models.Chunk
	var current []string
	currentTokens := 0
	softLimit := int(0.7 * float64(c.config.ChunkSize))

	for i, sentence := range sentences {
		current = append(current, sentence)
		currentTokens += c.counter.Count(sentence)

		last := i == len(sentences)-1
		atBoundary := i < len(boundaries) && boundaries[i]

		if currentTokens > c.config.ChunkSize && !last {
			chunks = c.appendChunk(chunks, doc, current, currentTokens, "token_limit", -1)
			keep := len(current) / 4
			if keep > 0 {
				current = append([]string{}, current[len(current)-keep:]...)
			} else {
				current = nil
			}
			currentTokens = 0
			for _, s := range current {
				currentTokens += c.counter.Count(s)
			}
			continue
		}

		if atBoundary && currentTokens >= softLimit && !last {
			chunks = c.appendChunk(chunks, doc, current, currentTokens, "semantic_boundary", similarities[i])
			current = nil
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		chunks = c.appendChunk(chunks, doc, current, currentTokens, "document_end", -1)
	}
	return chunks
}

func (c *SemanticChunker) appendChunk(chunks []*models.Chunk, doc *models.CleanedDocument, sentences []string, tokens int, splitReason string, boundarySimilarity float64) []*models.Chunk {
	content := strings.TrimSpace(strings.Join(sentences, " "))
	if content == "" {
		return chunks
	}
	if tokens < 1 {
		tokens = 1
	}

	metadata := models.CopyMetadata(doc.Metadata)
	metadata["chunk_strategy"] = c.config.Strategy
	metadata["actual_tokens"] = tokens
	metadata["split_reason"] = splitReason
	if boundarySimilarity >= 0 {
		metadata["boundary_similarity"] = math.Round(boundarySimilarity*1000) / 1000
	}

	return append(chunks, &models.Chunk{
		ID:         models.NewChunkID(),
		DocumentID: doc.ID,
		Content:    content,
		Metadata:   metadata,
		Position:   len(chunks),
		TokenCount: tokens,
		StartChar:  0,
		EndChar:    len(content),
		TenantID:   doc.TenantID,
	})
}

// NewChunkerForStrategy builds the chunker matching a requested strategy
func NewChunkerForStrategy(strategy string, tokenCfg TokenBudgetChunkerConfig, similarityThreshold float64, encoder SentenceEncoder, counter TokenCounter) (Chunker, error) {
	switch strategy {
	case "", StrategyTokenBased:
		return NewTokenBudgetChunker(tokenCfg, counter), nil
	case StrategySemantic, StrategyHybrid:
		return NewSemanticChunker(SemanticChunkerConfig{
			Strategy:            strategy,
			ChunkSize:           tokenCfg.ChunkSize,
			SimilarityThreshold: similarityThreshold,
		}, encoder, counter)
	}
	return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
}
