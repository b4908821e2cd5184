package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI embeds through any /embeddings-compatible endpoint, including
// Azure OpenAI deployments behind a custom base URL.
type OpenAI struct {
	client     *http.Client
	logger     *slog.Logger
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	maxBatch   int
	batchDelay time.Duration
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAI creates the OpenAI-compatible embedder.
func NewOpenAI(cfg *config.EmbedderConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "api key is required for the openai embedder")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultAITimeout
	}

	return &OpenAI{
		client:     &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxBatch:   cfg.MaxBatchSize,
		batchDelay: cfg.BatchDelay,
	}, nil
}

// Embed returns one vector per text, in input order.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedAll(ctx, texts, e.maxBatch, e.batchDelay, e.logger, e.call)
}

// Dimension returns the configured vector width.
func (e *OpenAI) Dimension() int { return e.dimension }

func (e *OpenAI) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "embedders", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "embedders", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindAI, "embedders", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindAI, "embedders", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fault.Newf(fault.KindAI, "embedding api returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fault.Newf(fault.KindAI, "embedding api returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed openAIEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindAI, "embedders", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fault.Newf(fault.KindAI, "embedding api returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// The API may reorder; the index field restores input order.
	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fault.Newf(fault.KindAI, "embedding api returned out-of-range index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
