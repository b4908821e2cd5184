// Package vector stores embedded chunks and answers similarity
// queries over them. One Store wraps one collection; tenancy and file
// scoping travel in payload fields rather than separate collections,
// so every provider honors the same filter semantics.
package vector

import (
	"context"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Payload keys shared by the indexer and every provider. The full
// payload schema (units, tokens, document metadata) belongs to the
// indexer; the store only interprets the keys it filters on.
const (
	// PayloadID carries the composite chunk id <file_id>_<chunk_index>.
	// Kept in the payload because not every backend accepts arbitrary
	// strings as native point ids.
	PayloadID = "_id"

	// PayloadFileID scopes points to their source file.
	PayloadFileID = "file_id"

	// PayloadNamespace scopes points to a tenant.
	PayloadNamespace = "namespace"
)

// Top-k bounds accepted by Search.
const (
	MinTopK = 1
	MaxTopK = 100
)

// Point is one embedded chunk ready for storage.
type Point struct {
	// ID is the composite chunk id <file_id>_<chunk_index>. Upserting
	// the same id again replaces the stored point.
	ID string

	// Vector is the chunk embedding.
	Vector []float32

	// Payload holds the retrievable chunk record. Values survive a
	// round trip as strings, numbers or bools depending on backend;
	// callers decode defensively.
	Payload map[string]any
}

// Match is one scored hit from a similarity query.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter scopes a query or deletion to a tenant and a set of files.
// Zero fields are not applied.
type Filter struct {
	Namespace string
	FileIDs   []string
}

// Store persists embedded chunks and answers similarity queries.
type Store interface {
	// Upsert writes points, replacing any with the same id.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to topK matches ordered by descending score.
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)

	// DeleteByFilter removes every point the filter selects.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// Close releases the underlying connection or flushes state.
	Close() error
}

// New creates the store named by the configuration.
func New(cfg *config.VectorConfig) (Store, error) {
	switch cfg.Provider {
	case config.VectorProviderChromem:
		return NewChromem(cfg)
	case config.VectorProviderQdrant:
		return NewQdrant(cfg)
	case config.VectorProviderPinecone:
		return NewPinecone(cfg)
	default:
		return nil, fault.Newf(fault.KindValidation, "unknown vector provider %q", cfg.Provider)
	}
}

// checkTopK rejects limits outside [MinTopK, MaxTopK].
func checkTopK(topK int) error {
	if topK < MinTopK || topK > MaxTopK {
		return fault.Newf(fault.KindValidation, "top_k must be between %d and %d, got %d", MinTopK, MaxTopK, topK)
	}
	return nil
}

// matchID prefers the composite id stored in the payload over the
// backend's native point id.
func matchID(nativeID string, payload map[string]any) string {
	if id, ok := payload[PayloadID].(string); ok && id != "" {
		return id
	}
	return nativeID
}
