package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()

	db, err := Open(&config.StorageConfig{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewFileStore(db, "sqlite3")
	require.NoError(t, store.Init(context.Background()))
	return store
}

func sampleRecord() *FileRecord {
	return &FileRecord{
		ID:        "f1",
		Namespace: "tenant-a",
		Name:      "report.pdf",
		Path:      "blobs/f1/report.pdf",
		Size:      2048,
		Hash:      "abc123",
		Status:    StatusProcessing,
		Meta: document.Meta{
			Company: "Acme Corp",
			Ticker:  "ACME",
			DocType: "10-K",
			Blurb:   "Annual report.",
		},
		Content: map[string]document.Unit{
			"1": {ID: "1", Type: document.UnitText, Text: "Revenue grew.", Location: document.Location{Page: 1}},
		},
		Sheets: map[string]document.Sheet{
			"Data": {
				Cells:  map[string]document.Cell{"A1": {Value: "Revenue", Row: 1, Col: "A"}},
				MaxRow: 1,
				MaxCol: 1,
				Tokens: 3,
			},
		},
	}
}

func TestFilePutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, store.Put(ctx, rec))

	got, found, err := store.Get(ctx, "f1", "tenant-a")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Namespace, got.Namespace)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Path, got.Path)
	assert.Equal(t, rec.Size, got.Size)
	assert.Equal(t, rec.Hash, got.Hash)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, rec.Meta, got.Meta)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Sheets, got.Sheets)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestFileGetScopesNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleRecord()))

	_, found, err := store.Get(ctx, "f1", "tenant-b")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.Get(ctx, "missing", "tenant-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFilePutUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sampleRecord()
	require.NoError(t, store.Put(ctx, first))
	created := first.CreatedAt

	second := sampleRecord()
	second.Name = "report-v2.pdf"
	second.Status = StatusCompleted
	require.NoError(t, store.Put(ctx, second))

	got, found, err := store.Get(ctx, "f1", "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "report-v2.pdf", got.Name)
	assert.Equal(t, StatusCompleted, got.Status)
	// The upsert leaves the original creation time in place.
	assert.WithinDuration(t, created, got.CreatedAt, time.Second)
}

func TestFileSetStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleRecord()))
	require.NoError(t, store.SetStatus(ctx, "f1", "tenant-a", StatusFailed))

	got, _, err := store.Get(ctx, "f1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	err = store.SetStatus(ctx, "missing", "tenant-a", StatusCompleted)
	require.Error(t, err)
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))
}

func TestFileSaveResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bare := &FileRecord{ID: "f2", Namespace: "tenant-a", Name: "model.xlsx", Status: StatusProcessing}
	require.NoError(t, store.Put(ctx, bare))

	meta := document.Meta{Company: "Acme Corp", DocType: "model"}
	result := &document.ParseResult{
		Content: map[string]document.Unit{
			"A1": {ID: "A1", Type: document.UnitTable, Text: "Revenue"},
		},
		Sheets: map[string]document.Sheet{
			"Q1": {Cells: map[string]document.Cell{"A1": {Value: "Revenue", Row: 1, Col: "A"}}, MaxRow: 1, MaxCol: 1, Tokens: 2},
		},
	}
	require.NoError(t, store.SaveResults(ctx, "f2", "tenant-a", meta, result))

	got, found, err := store.Get(ctx, "f2", "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, meta, got.Meta)
	assert.Equal(t, result.Content, got.Content)
	assert.Equal(t, result.Sheets, got.Sheets)

	err = store.SaveResults(ctx, "missing", "tenant-a", meta, result)
	require.Error(t, err)
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))
}

func TestFileSheets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleRecord()))

	sheets, err := store.Sheets(ctx, "f1", "tenant-a")
	require.NoError(t, err)
	require.Contains(t, sheets, "Data")
	assert.Equal(t, 3, sheets["Data"].Tokens)

	// A text-only file has no sheets.
	require.NoError(t, store.Put(ctx, &FileRecord{ID: "f3", Namespace: "tenant-a", Name: "notes.txt"}))
	sheets, err = store.Sheets(ctx, "f3", "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, sheets)

	// Unknown files are not an error.
	sheets, err = store.Sheets(ctx, "missing", "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, sheets)
}

func TestFileDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleRecord()))

	// Deleting under the wrong tenant leaves the record alone.
	require.NoError(t, store.Delete(ctx, "f1", "tenant-b"))
	_, found, err := store.Get(ctx, "f1", "tenant-a")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, store.Delete(ctx, "f1", "tenant-a"))
	_, found, err = store.Get(ctx, "f1", "tenant-a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete(ctx, "f1", "tenant-a"))
}

func TestFilePutValidatesKeys(t *testing.T) {
	store := newTestStore(t)

	err := store.Put(context.Background(), &FileRecord{Namespace: "tenant-a"})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	err = store.Put(context.Background(), &FileRecord{ID: "f1"})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestRebind(t *testing.T) {
	query := "SELECT id FROM files WHERE id = ? AND namespace = ?"

	assert.Equal(t, query, rebind("sqlite3", query))
	assert.Equal(t, query, rebind("mysql", query))
	assert.Equal(t,
		"SELECT id FROM files WHERE id = $1 AND namespace = $2",
		rebind("postgres", query))
}
