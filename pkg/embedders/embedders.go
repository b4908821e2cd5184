// Package embedders turns text into vectors. Providers share one
// batching loop: inputs are split into capped batches, consecutive
// batches are spaced by a small delay, and a rate-limited batch is
// retried once after a longer pause.
package embedders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// New builds the configured embedding provider.
func New(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbedderProviderOllama:
		return NewOllama(cfg)
	case config.EmbedderProviderOpenAI:
		return NewOpenAI(cfg)
	default:
		return nil, fault.Newf(fault.KindValidation, "unknown embedder provider %q", cfg.Provider)
	}
}

// batchCall performs a single embeddings API call for one batch.
type batchCall func(ctx context.Context, texts []string) ([][]float32, error)

// embedAll drives the shared batching loop around a provider call.
func embedAll(ctx context.Context, texts []string, maxBatch int, batchDelay time.Duration, logger *slog.Logger, call batchCall) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fault.New(fault.KindValidation, "no texts to embed")
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := call(ctx, batch)
		if err != nil {
			if !rateLimited(err) {
				return nil, err
			}
			logger.Warn("embedding rate limited, retrying batch",
				"batch_size", len(batch), "delay", 2*batchDelay)
			if err := sleep(ctx, 2*batchDelay); err != nil {
				return nil, err
			}
			vectors, err = call(ctx, batch)
			if err != nil {
				return nil, err
			}
		}
		results = append(results, vectors...)

		if end < len(texts) {
			if err := sleep(ctx, batchDelay); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

func rateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
