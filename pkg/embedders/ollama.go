package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Ollama's llama runner crashes when it receives concurrent embedding
// requests, so every request is serialized through one mutex.
var ollamaEmbedMu sync.Mutex

// Ollama embeds through a local Ollama server. The /api/embeddings
// endpoint takes one prompt per call, so batches degrade to a loop.
type Ollama struct {
	client     *http.Client
	logger     *slog.Logger
	baseURL    string
	model      string
	dimension  int
	maxBatch   int
	batchDelay time.Duration
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllama creates the Ollama embedder.
func NewOllama(cfg *config.EmbedderConfig) (*Ollama, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultAITimeout
	}

	return &Ollama{
		client:     &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		baseURL:    baseURL,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxBatch:   cfg.MaxBatchSize,
		batchDelay: cfg.BatchDelay,
	}, nil
}

// Embed returns one vector per text, in input order.
func (e *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedAll(ctx, texts, e.maxBatch, e.batchDelay, e.logger, e.call)
}

// Dimension returns the configured vector width.
func (e *Ollama) Dimension() int { return e.dimension }

func (e *Ollama) call(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (e *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "embedders", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "embedders", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindAI, "embedders", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fault.Newf(fault.KindAI, "ollama returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fault.Wrap(fault.KindAI, "embedders", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fault.New(fault.KindAI, "ollama returned an empty embedding")
	}
	return parsed.Embedding, nil
}
