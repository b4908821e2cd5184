package embedders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

func openAITestConfig(baseURL string) *config.EmbedderConfig {
	return &config.EmbedderConfig{
		Provider:     config.EmbedderProviderOpenAI,
		Model:        "text-embedding-3-small",
		APIKey:       "sk-test",
		BaseURL:      baseURL,
		Dimension:    3,
		MaxBatchSize: 2,
		BatchDelay:   time.Millisecond,
		Timeout:      5 * time.Second,
	}
}

// embeddingHandler answers each input with a vector [index, 0, 0] so
// tests can verify ordering end to end.
func embeddingHandler(t *testing.T, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := openAIEmbedResponse{}
		// Answer in reverse to prove the index field restores order.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i), 0, 0}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestOpenAIEmbedBatching(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(embeddingHandler(t, &calls))
	defer server.Close()

	embedder, err := NewOpenAI(openAITestConfig(server.URL))
	require.NoError(t, err)

	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := embedder.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, 5)
	// With a batch cap of 2, five texts take three calls.
	assert.Equal(t, int32(3), calls.Load())
	// Within each batch, order follows the input.
	assert.Equal(t, float32(0), vectors[0][0])
	assert.Equal(t, float32(1), vectors[1][0])
	assert.Equal(t, float32(0), vectors[2][0])
}

func TestOpenAIEmbedRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limit exceeded"}}`)
			return
		}
		var req openAIEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := openAIEmbedResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{1}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder, err := NewOpenAI(openAITestConfig(server.URL))
	require.NoError(t, err)

	vectors, err := embedder.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIEmbedRateLimitRetriesOnlyOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit exceeded"}}`)
	}))
	defer server.Close()

	embedder, err := NewOpenAI(openAITestConfig(server.URL))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAI))
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIEmbedNonRateLimitErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid input"}}`)
	}))
	defer server.Close()

	embedder, err := NewOpenAI(openAITestConfig(server.URL))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	cfg := openAITestConfig("http://localhost")
	cfg.APIKey = ""

	_, err := NewOpenAI(cfg)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAuth))
}

func TestEmbedEmptyInput(t *testing.T) {
	embedder, err := NewOpenAI(openAITestConfig("http://localhost"))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestOllamaEmbedsPerText(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer server.Close()

	embedder, err := NewOllama(&config.EmbedderConfig{
		Provider:     config.EmbedderProviderOllama,
		Model:        "nomic-embed-text",
		BaseURL:      server.URL,
		Dimension:    2,
		MaxBatchSize: 10,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	vectors, err := embedder.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewDispatch(t *testing.T) {
	embedder, err := New(&config.EmbedderConfig{
		Provider: config.EmbedderProviderOllama,
		Model:    "nomic-embed-text",
	})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, embedder)

	_, err = New(&config.EmbedderConfig{Provider: "weaviate"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}
