package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashedTFEncoder(t *testing.T) {
	enc := NewHashedTFEncoder(64)

	a := enc.Encode("The cat sat on the mat.")
	b := enc.Encode("The cat played on the mat!")
	c := enc.Encode("Quantum processors execute entangled qubit operations.")

	assert.Greater(t, CosineSimilarity(a, b), 0.5)
	assert.Less(t, CosineSimilarity(a, c), 0.2)
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
}

func TestSemanticChunker_SplitsAtTopicShift(t *testing.T) {
	chunker, err := NewSemanticChunker(SemanticChunkerConfig{
		Strategy:            StrategySemantic,
		ChunkSize:           500,
		SimilarityThreshold: 0.3,
	}, nil, nil)
	require.NoError(t, err)

	content := strings.Join([]string{
		"The cat sat quietly on the warm mat near the cat door.",
		"The cat watched the mat while another cat slept nearby.",
		"Quantum processors execute entangled qubit operations at cryogenic temperatures.",
		"Entangled qubit operations require quantum error correction in the processors.",
	}, " ")

	chunks, err := chunker.Chunk(cleanedDoc(content))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Contains(t, chunks[0].Content, "cat")
	assert.NotContains(t, chunks[0].Content, "Quantum")
	assert.Equal(t, "semantic_boundary", chunks[0].Metadata["split_reason"])
	assert.Contains(t, chunks[0].Metadata, "boundary_similarity")

	assert.Contains(t, chunks[1].Content, "Quantum")
	assert.Equal(t, "document_end", chunks[1].Metadata["split_reason"])
	assert.NotContains(t, chunks[1].Metadata, "boundary_similarity")

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Position)
		assert.Equal(t, StrategySemantic, chunk.Metadata["chunk_strategy"])
		assert.NoError(t, chunk.Validate())
	}
}

func TestSemanticChunker_SafetyLimit(t *testing.T) {
	chunker, err := NewSemanticChunker(SemanticChunkerConfig{
		Strategy:            StrategySemantic,
		ChunkSize:           20,
		SimilarityThreshold: 0.3,
	}, nil, nil)
	require.NoError(t, err)

	// Same topic throughout, so no semantic boundary ever fires; the hard
	// limit at 1.5x the chunk size has to.
	var sentences []string
	for i := 0; i < 8; i++ {
		sentences = append(sentences, "The cat sat on the mat beside the other cat again.")
	}
	chunks, err := chunker.Chunk(cleanedDoc(strings.Join(sentences, " ")))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, "token_limit", chunks[0].Metadata["split_reason"])
}

func TestHybridChunker_TokenLimit(t *testing.T) {
	chunker, err := NewSemanticChunker(SemanticChunkerConfig{
		Strategy:            StrategyHybrid,
		ChunkSize:           10,
		SimilarityThreshold: 0.3,
	}, nil, nil)
	require.NoError(t, err)

	content := strings.Join([]string{
		"The cat sat on the mat near the warm door today.",
		"The cat napped on the mat beside the open door.",
		"The cat stared at the mat and then the door.",
	}, " ")
	chunks, err := chunker.Chunk(cleanedDoc(content))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, "token_limit", chunks[0].Metadata["split_reason"])
	assert.Equal(t, "document_end", chunks[len(chunks)-1].Metadata["split_reason"])
}

func TestHybridChunker_SemanticBoundaryWhenNearlyFull(t *testing.T) {
	chunker, err := NewSemanticChunker(SemanticChunkerConfig{
		Strategy:            StrategyHybrid,
		ChunkSize:           60,
		SimilarityThreshold: 0.3,
	}, nil, nil)
	require.NoError(t, err)

	catSentence := "The cat sat on the mat beside the warm fire while the other cat watched the window and the mat."
	quantumSentence := "Quantum processors execute entangled qubit operations under cryogenic isolation with error corrected quantum gates throughout."

	// Two cat sentences put the chunk past 70% of the budget before the
	// topic shifts to quantum hardware.
	content := strings.Join([]string{catSentence, catSentence, quantumSentence, quantumSentence}, " ")
	chunks, err := chunker.Chunk(cleanedDoc(content))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	assert.Equal(t, "semantic_boundary", chunks[0].Metadata["split_reason"])
	assert.NotContains(t, chunks[0].Content, "Quantum")
	assert.Contains(t, chunks[0].Metadata, "boundary_similarity")
}

func TestSemanticChunker_EmptyAndNil(t *testing.T) {
	chunker, err := NewSemanticChunker(SemanticChunkerConfig{Strategy: StrategySemantic}, nil, nil)
	require.NoError(t, err)

	chunks, err := chunker.Chunk(cleanedDoc(""))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = chunker.Chunk(nil)
	assert.Error(t, err)
}

func TestNewChunkerForStrategy(t *testing.T) {
	tokenCfg := DefaultTokenBudgetChunkerConfig()

	tests := []struct {
		strategy string
		want     string
		wantErr  bool
	}{
		{strategy: "", want: StrategyTokenBased},
		{strategy: StrategyTokenBased, want: StrategyTokenBased},
		{strategy: StrategySemantic, want: StrategySemantic},
		{strategy: StrategyHybrid, want: StrategyHybrid},
		{strategy: "recursive", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("strategy "+tt.strategy, func(t *testing.T) {
			chunker, err := NewChunkerForStrategy(tt.strategy, tokenCfg, 0.3, nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, chunker.GetStrategy())
		})
	}
}
