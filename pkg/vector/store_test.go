package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

func chromemConfig(persistPath string) *config.VectorConfig {
	return &config.VectorConfig{
		Provider:    config.VectorProviderChromem,
		Collection:  "chunks-test",
		PersistPath: persistPath,
	}
}

func testPoint(id, fileID, namespace string, vec []float32) Point {
	return Point{
		ID:     id,
		Vector: vec,
		Payload: map[string]any{
			PayloadID:        id,
			PayloadFileID:    fileID,
			PayloadNamespace: namespace,
			"tokens":         42,
		},
	}
}

func TestChromemUpsertAndSearch(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	ctx := context.Background()
	err = store.Upsert(ctx, []Point{
		testPoint("f1_0", "f1", "acme", []float32{1, 0, 0}),
		testPoint("f1_1", "f1", "acme", []float32{0.9, 0.1, 0}),
		testPoint("f2_0", "f2", "acme", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	matches, err := store.Search(ctx, []float32{1, 0, 0}, 2, Filter{Namespace: "acme"})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "f1_0", matches[0].ID)
	assert.Equal(t, "f1_1", matches[1].ID)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-4)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	// Payload values come back stringified from the embedded store.
	assert.Equal(t, "f1", matches[0].Payload[PayloadFileID])
	assert.Equal(t, "42", matches[0].Payload["tokens"])
}

func TestChromemSearchScopesToFiles(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	ctx := context.Background()
	err = store.Upsert(ctx, []Point{
		testPoint("f1_0", "f1", "acme", []float32{1, 0, 0}),
		testPoint("f2_0", "f2", "acme", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	// f1 scores higher against this query but is outside the scope.
	matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, Filter{
		Namespace: "acme",
		FileIDs:   []string{"f2"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f2_0", matches[0].ID)
}

func TestChromemSearchNamespaceIsolation(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	ctx := context.Background()
	err = store.Upsert(ctx, []Point{
		testPoint("f1_0", "f1", "acme", []float32{1, 0, 0}),
		testPoint("f9_0", "f9", "globex", []float32{1, 0, 0}),
	})
	require.NoError(t, err)

	matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, Filter{Namespace: "globex"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f9_0", matches[0].ID)
}

func TestChromemUpsertReplacesSameID(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, []Point{testPoint("f1_0", "f1", "acme", []float32{1, 0, 0})}))
	require.NoError(t, store.Upsert(ctx, []Point{testPoint("f1_0", "f1", "acme", []float32{0, 1, 0})}))

	matches, err := store.Search(ctx, []float32{0, 1, 0}, 1, Filter{Namespace: "acme"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f1_0", matches[0].ID)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-4)
}

func TestChromemDeleteByFilter(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	ctx := context.Background()
	err = store.Upsert(ctx, []Point{
		testPoint("f1_0", "f1", "acme", []float32{1, 0, 0}),
		testPoint("f1_1", "f1", "acme", []float32{0.9, 0.1, 0}),
		testPoint("f2_0", "f2", "acme", []float32{0, 1, 0}),
		testPoint("f1_0x", "f1", "globex", []float32{1, 0, 0}),
	})
	require.NoError(t, err)

	err = store.DeleteByFilter(ctx, Filter{Namespace: "acme", FileIDs: []string{"f1"}})
	require.NoError(t, err)

	matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, Filter{Namespace: "acme"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f2_0", matches[0].ID)

	// Same file id under another tenant is untouched.
	matches, err = store.Search(ctx, []float32{1, 0, 0}, 10, Filter{Namespace: "globex"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f1_0x", matches[0].ID)
}

func TestChromemDeleteRejectsEmptyFilter(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	err = store.DeleteByFilter(context.Background(), Filter{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestChromemTopKBounds(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	ctx := context.Background()
	for _, topK := range []int{0, -1, 101} {
		_, err := store.Search(ctx, []float32{1, 0, 0}, topK, Filter{Namespace: "acme"})
		require.Error(t, err, "top_k %d", topK)
		assert.True(t, fault.IsKind(err, fault.KindValidation))
	}
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	store, err := NewChromem(chromemConfig(""))
	require.NoError(t, err)

	matches, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{Namespace: "acme"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := chromemConfig(dir)

	store, err := NewChromem(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, []Point{testPoint("f1_0", "f1", "acme", []float32{1, 0, 0})}))
	require.NoError(t, store.Close())

	reopened, err := NewChromem(cfg)
	require.NoError(t, err)

	matches, err := reopened.Search(ctx, []float32{1, 0, 0}, 1, Filter{Namespace: "acme"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "f1_0", matches[0].ID)
}

func TestNewStoreDispatch(t *testing.T) {
	store, err := New(chromemConfig(""))
	require.NoError(t, err)
	assert.IsType(t, &Chromem{}, store)

	_, err = New(&config.VectorConfig{Provider: "milvus"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	_, err = NewPinecone(&config.VectorConfig{Collection: "idx"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAuth))
}

func TestStringifyPayload(t *testing.T) {
	out := stringifyPayload(map[string]any{
		"name":      "report.pdf",
		"tokens":    512,
		"truncated": true,
	})
	assert.Equal(t, "report.pdf", out["name"])
	assert.Equal(t, "512", out["tokens"])
	assert.Equal(t, "true", out["truncated"])
}
