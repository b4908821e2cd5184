// Package index writes parsed chunks into the vector store and reads
// search payloads back into domain records. It owns the payload
// schema; the store below it only knows the tenancy filter keys.
package index

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/embedders"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/vector"
)

// Indexer embeds chunks and upserts them in batches.
type Indexer struct {
	store      vector.Store
	embedder   embedders.Embedder
	batchSize  int
	batchDelay time.Duration
	logger     *slog.Logger
}

// Option adjusts indexer behavior.
type Option func(*Indexer)

// WithBatchSize overrides the chunks-per-upsert batch size.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) { ix.batchSize = n }
}

// WithBatchDelay overrides the pause between consecutive batches.
func WithBatchDelay(d time.Duration) Option {
	return func(ix *Indexer) { ix.batchDelay = d }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// New creates an indexer over a store and an embedder.
func New(store vector.Store, embedder embedders.Embedder, opts ...Option) *Indexer {
	ix := &Indexer{
		store:      store,
		embedder:   embedder,
		batchSize:  config.DefaultIndexBatchSize,
		batchDelay: config.DefaultEmbedRateLimitDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index embeds every chunk and upserts it under the tenant namespace.
// Chunk order defines chunk indices, so re-indexing the same file
// replaces its points instead of accumulating them.
func (ix *Indexer) Index(ctx context.Context, file document.File, meta document.Meta, chunks []document.Chunk, namespace string) error {
	if file.ID == "" || file.Name == "" || namespace == "" {
		return fault.New(fault.KindValidation, "file id, file name and namespace are required")
	}
	if len(chunks) == 0 {
		return fault.Newf(fault.KindValidation, "file %q has no chunks to index", file.Name)
	}

	total := 0
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text()
		}

		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fault.Newf(fault.KindAI, "embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		points := make([]vector.Point, len(batch))
		for i, chunk := range batch {
			chunkIndex := start + i
			payload, err := encodePayload(file, meta, chunk, chunkIndex, namespace)
			if err != nil {
				return err
			}
			points[i] = vector.Point{
				ID:      PointID(file.ID, chunkIndex),
				Vector:  vectors[i],
				Payload: payload,
			}
		}

		if err := ix.upsert(ctx, points); err != nil {
			return err
		}
		total += len(points)

		if end < len(chunks) {
			if err := pause(ctx, ix.batchDelay); err != nil {
				return err
			}
		}
	}

	ix.logger.Info("Indexed file",
		"file_id", file.ID,
		"file_name", file.Name,
		"namespace", namespace,
		"chunks", total)
	return nil
}

// Delete removes every point of a file within a namespace.
func (ix *Indexer) Delete(ctx context.Context, fileID, namespace string) error {
	if fileID == "" || namespace == "" {
		return fault.New(fault.KindValidation, "file id and namespace are required")
	}
	return ix.store.DeleteByFilter(ctx, vector.Filter{
		Namespace: namespace,
		FileIDs:   []string{fileID},
	})
}

// upsert writes a batch, falling back to point-by-point replacement
// when the backend reports a duplicate key.
func (ix *Indexer) upsert(ctx context.Context, points []vector.Point) error {
	err := ix.store.Upsert(ctx, points)
	if err == nil {
		return nil
	}
	if !isDuplicateKey(err) {
		return err
	}

	ix.logger.Warn("Batch upsert hit duplicate keys, replacing point by point", "points", len(points))
	for _, p := range points {
		if err := ix.store.Upsert(ctx, []vector.Point{p}); err != nil {
			return err
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}

func pause(ctx context.Context, d time.Duration) error {
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
