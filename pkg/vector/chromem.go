package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	chromem "github.com/philippgille/chromem-go"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Chromem is the embedded store. It keeps vectors in process memory
// with optional gob persistence, needs no external service, and is
// the zero-config default.
//
// Metadata filtering in chromem is exact-match only, so file scoping
// happens after the ranked query rather than inside it. Fine for the
// corpus sizes this store is meant for; use qdrant or pinecone at
// scale.
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromem creates an embedded store. A non-empty PersistPath loads
// or creates a gob-backed database under that directory; otherwise
// vectors live in memory only.
func NewChromem(cfg *config.VectorConfig) (*Chromem, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fault.Wrapf(fault.KindRetrieval, "vector", err, "failed to open persistent store at %q", cfg.PersistPath)
		}
		slog.Info("Opened persistent vector store", "path", cfg.PersistPath)
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory vector store")
	}

	// Embeddings are computed upstream; chromem must never be asked
	// to embed on its own.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("store received a document without a precomputed embedding")
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fault.Wrapf(fault.KindRetrieval, "vector", err, "failed to open collection %q", cfg.Collection)
	}

	return &Chromem{db: db, collection: col}, nil
}

// Upsert writes points, replacing any with the same id.
func (s *Chromem) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Metadata:  stringifyPayload(p.Payload),
			Embedding: p.Vector,
		})
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	return nil
}

// Search returns up to topK matches ordered by descending score.
func (s *Chromem) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	where := map[string]string{}
	if filter.Namespace != "" {
		where[PayloadNamespace] = filter.Namespace
	}

	// Rank the whole collection, then scope to the requested files.
	// chromem rejects result limits above its document count, hence
	// the full count rather than topK here.
	results, err := s.collection.QueryEmbedding(ctx, vector, count, where, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindRetrieval, "vector", err)
	}

	var allow map[string]bool
	if len(filter.FileIDs) > 0 {
		allow = make(map[string]bool, len(filter.FileIDs))
		for _, id := range filter.FileIDs {
			allow[id] = true
		}
	}

	matches := make([]Match, 0, topK)
	for _, r := range results {
		if allow != nil && !allow[r.Metadata[PayloadFileID]] {
			continue
		}
		payload := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			payload[k] = v
		}
		matches = append(matches, Match{
			ID:      matchID(r.ID, payload),
			Score:   r.Similarity,
			Payload: payload,
		})
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}

// DeleteByFilter removes every point the filter selects.
func (s *Chromem) DeleteByFilter(ctx context.Context, filter Filter) error {
	base := map[string]string{}
	if filter.Namespace != "" {
		base[PayloadNamespace] = filter.Namespace
	}

	if len(filter.FileIDs) == 0 {
		if len(base) == 0 {
			return fault.New(fault.KindValidation, "delete filter selects the entire collection")
		}
		if err := s.collection.Delete(ctx, base, nil); err != nil {
			return fault.Wrap(fault.KindRetrieval, "vector", err)
		}
		return nil
	}

	// chromem metadata filters are single-valued, one pass per file.
	for _, fileID := range filter.FileIDs {
		where := map[string]string{PayloadFileID: fileID}
		for k, v := range base {
			where[k] = v
		}
		if err := s.collection.Delete(ctx, where, nil); err != nil {
			return fault.Wrapf(fault.KindRetrieval, "vector", err, "failed to delete points for file %q", fileID)
		}
	}
	return nil
}

// Close is a no-op; the persistent database writes through on every
// mutation.
func (s *Chromem) Close() error {
	return nil
}

// stringifyPayload flattens payload values into chromem's string-only
// metadata. Numbers and bools come back as strings on read; the index
// layer decodes them.
func stringifyPayload(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

var _ Store = (*Chromem)(nil)
