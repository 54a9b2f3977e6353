package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boswecw/rake/internal/observability"
)

func TestNewOpenAIEmbedder(t *testing.T) {
	logger := observability.NewNoopLogger()

	_, err := NewOpenAIEmbedder(Config{Model: "text-embedding-3-small"}, logger)
	assert.ErrorContains(t, err, "api key")

	_, err = NewOpenAIEmbedder(Config{APIKey: "sk-test", Model: "word2vec"}, logger)
	assert.ErrorContains(t, err, "unsupported embedding model")

	emb, err := NewOpenAIEmbedder(Config{APIKey: "sk-test"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", emb.Model())
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Object: "embedding", Index: i, Embedding: []float32{float32(i), 0.5, 0.25}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 8, "total_tokens": 8},
		})
	}))
	defer server.Close()

	emb, err := NewOpenAIEmbedder(Config{
		APIKey:  "sk-test",
		Model:   "text-embedding-3-small",
		BaseURL: server.URL + "/v1",
	}, observability.NewNoopLogger())
	require.NoError(t, err)

	vectors, err := emb.Embed(context.Background(), []string{"first chunk", "second chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0, 0.5, 0.25}, vectors[0])
	assert.Equal(t, []float32{1, 0.5, 0.25}, vectors[1])
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAIEmbedder_EmbedEmptyInput(t *testing.T) {
	emb, err := NewOpenAIEmbedder(Config{APIKey: "sk-test"}, observability.NewNoopLogger())
	require.NoError(t, err)

	vectors, err := emb.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	emb, err := NewOpenAIEmbedder(Config{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
	}, observability.NewNoopLogger())
	require.NoError(t, err)

	_, err = emb.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings request failed")
}
