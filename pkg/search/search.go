// Package search executes a retrieval plan against the vector store.
//
// The plan's queries are embedded in one batched call and fanned out
// in parallel. Hits are merged across queries by chunk id, keeping the
// best score per chunk; ordering the result is the context builder's
// job, not this package's.
package search

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/embedders"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/index"
	"github.com/magpielabs/magpie/pkg/vector"
)

const op = "search"

// Match is one retrieved chunk carrying the highest similarity
// observed across the plan's queries.
type Match struct {
	index.Record
	Score float32
}

// Executor fans retrieval plans out against one collection.
type Executor struct {
	store    vector.Store
	embedder embedders.Embedder
	topK     int
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTopK overrides the per-query match count.
func WithTopK(k int) Option {
	return func(e *Executor) { e.topK = k }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New returns an Executor over the given store and embedder.
func New(store vector.Store, embedder embedders.Embedder, opts ...Option) *Executor {
	e := &Executor{
		store:    store,
		embedder: embedder,
		topK:     config.DefaultTopKPerQuery,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run embeds every query, searches the store once per query scoped to
// the given files and namespace, and returns the merged match set.
// A chunk returned by several queries appears once with its maximum
// score. The order of the result is unspecified.
func (e *Executor) Run(ctx context.Context, queries []string, fileIDs []string, namespace string) ([]Match, error) {
	if len(queries) == 0 {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "at least one query is required"}
	}
	if len(fileIDs) == 0 {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "at least one file id is required"}
	}
	if namespace == "" {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Msg: "namespace is required"}
	}

	vectors, err := e.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(queries) {
		return nil, fault.Newf(fault.KindAI, "embedder returned %d vectors for %d queries", len(vectors), len(queries))
	}

	filter := vector.Filter{Namespace: namespace, FileIDs: fileIDs}

	var mu sync.Mutex
	best := make(map[string]Match)

	g, gctx := errgroup.WithContext(ctx)
	for i := range queries {
		vec := vectors[i]
		g.Go(func() error {
			hits, err := e.store.Search(gctx, vec, e.topK, filter)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, hit := range hits {
				rec, err := index.DecodeRecord(hit.Payload)
				if err != nil {
					e.logger.Warn("skipping undecodable match", "id", hit.ID, "error", err)
					continue
				}
				key := rec.ID
				if key == "" {
					key = hit.ID
				}
				if prev, ok := best[key]; !ok || hit.Score > prev.Score {
					best[key] = Match{Record: rec, Score: hit.Score}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	e.logger.Info("retrieval complete",
		"queries", len(queries),
		"matches", len(matches))
	return matches, nil
}
