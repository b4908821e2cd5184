package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/blob"
	"github.com/magpielabs/magpie/pkg/chunker"
	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/converter"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/generator"
	"github.com/magpielabs/magpie/pkg/index"
	"github.com/magpielabs/magpie/pkg/llms"
	"github.com/magpielabs/magpie/pkg/parser"
	"github.com/magpielabs/magpie/pkg/storage"
	"github.com/magpielabs/magpie/pkg/vector"
)

// wordCodec counts one token per whitespace-separated word, which keeps
// the budget arithmetic in tests exact.
type wordCodec struct{}

func (wordCodec) Count(text string) int { return len(strings.Fields(text)) }

func (wordCodec) Slice(text string, maxTokens int) []string {
	words := strings.Fields(text)
	if maxTokens <= 0 || len(words) <= maxTokens {
		return []string{text}
	}
	var pieces []string
	for start := 0; start < len(words); start += maxTokens {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		pieces = append(pieces, strings.Join(words[start:end], " "))
	}
	return pieces
}

type fakeLLM struct{}

func (fakeLLM) Complete(context.Context, llms.Request) (string, error) {
	return `{"company":"Acme Corp","doc_type":"report","blurb":"Quarterly results."}`, nil
}

func (fakeLLM) ModelName() string      { return "full-model" }
func (fakeLLM) SmallModelName() string { return "small-model" }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int { return 2 }

type fakeVector struct {
	mu         sync.Mutex
	points     []vector.Point
	deletes    []vector.Filter
	failUpsert error
}

func (f *fakeVector) Upsert(ctx context.Context, points []vector.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeVector) Search(context.Context, []float32, int, vector.Filter) ([]vector.Match, error) {
	return nil, nil
}

func (f *fakeVector) DeleteByFilter(_ context.Context, filter vector.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, filter)
	return nil
}

func (f *fakeVector) Close() error { return nil }

// progressLog collects progress events; watch tests record from
// another goroutine.
type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressLog) record(ev Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *progressLog) snapshot() []Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Progress(nil), p.events...)
}

type harness struct {
	engine *Engine
	files  *storage.FileStore
	blobs  blob.Store
	vec    *fakeVector
}

// newTestEngine wires the engine over an in-memory database, a temp
// filesystem blob store and fake AI providers. The parser, chunker and
// indexer are the real ones.
func newTestEngine(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()

	db, err := storage.Open(&config.StorageConfig{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files := storage.NewFileStore(db, "sqlite3")
	require.NoError(t, files.Init(context.Background()))

	blobs, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	vec := &fakeVector{}
	deps := Deps{
		Files:     files,
		Blobs:     blobs,
		Parser:    parser.New(),
		Chunker:   chunker.New(wordCodec{}),
		Generator: generator.New(fakeLLM{}),
		Indexer:   index.New(vec, fakeEmbedder{}),
	}
	for _, m := range mutate {
		m(&deps)
	}

	engine, err := New(deps)
	require.NoError(t, err)

	return &harness{engine: engine, files: files, blobs: blobs, vec: vec}
}

func TestRegisterAndProcessFile(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	content := []byte("Revenue grew twelve percent. Margins improved across both segments.")
	fileID, err := h.engine.Register(ctx, "q3-review.txt", content, "tenant-a")
	require.NoError(t, err)
	require.NotEmpty(t, fileID)

	rec, found, err := h.files.Get(ctx, fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.StatusPending, rec.Status)
	assert.Equal(t, int64(len(content)), rec.Size)
	assert.NotEmpty(t, rec.Hash)

	var log progressLog
	require.NoError(t, h.engine.ProcessFile(ctx, fileID, "tenant-a", log.record))

	assert.Equal(t, []Progress{
		{FileID: fileID, Progress: 0, Message: "Downloading"},
		{FileID: fileID, Progress: 20, Message: "Parsing"},
		{FileID: fileID, Progress: 45, Message: "Analyzing"},
		{FileID: fileID, Progress: 65, Message: "Indexing"},
	}, log.snapshot())

	rec, found, err = h.files.Get(ctx, fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Equal(t, "Acme Corp", rec.Meta.Company)
	assert.NotEmpty(t, rec.Content)

	require.NotEmpty(t, h.vec.points)
	assert.Equal(t, "tenant-a", h.vec.points[0].Payload["namespace"])
	assert.Equal(t, fileID, h.vec.points[0].Payload["file_id"])
}

func TestRegisterValidation(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, "", []byte("x"), "tenant-a")
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = h.engine.Register(ctx, "a.txt", []byte("x"), "")
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = h.engine.Register(ctx, "a.txt", nil, "tenant-a")
	assert.Equal(t, fault.KindEmptyDocument, fault.KindOf(err))
}

func TestProcessFileMissingRecord(t *testing.T) {
	h := newTestEngine(t)

	err := h.engine.ProcessFile(context.Background(), "no-such-file", "tenant-a", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestProcessFileMarksFailedOnIndexError(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	fileID, err := h.engine.Register(ctx, "notes.txt", []byte("Revenue grew."), "tenant-a")
	require.NoError(t, err)

	h.vec.failUpsert = errors.New("boom")
	err = h.engine.ProcessFile(ctx, fileID, "tenant-a", nil)
	require.Error(t, err)

	rec, found, err := h.files.Get(ctx, fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.StatusFailed, rec.Status)
}

func TestProcessFileCancelledBeforeStart(t *testing.T) {
	h := newTestEngine(t)

	fileID, err := h.engine.Register(context.Background(), "notes.txt", []byte("Revenue grew."), "tenant-a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = h.engine.ProcessFile(ctx, fileID, "tenant-a", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindCancelled, fault.KindOf(err))

	// Admission failed, so the record never left pending.
	rec, found, err := h.files.Get(context.Background(), fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.StatusPending, rec.Status)
}

func TestProcessFileCancelledMidRun(t *testing.T) {
	h := newTestEngine(t)

	fileID, err := h.engine.Register(context.Background(), "notes.txt", []byte("Revenue grew."), "tenant-a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = h.engine.ProcessFile(ctx, fileID, "tenant-a", func(p Progress) {
		if p.Progress == 65 {
			cancel()
		}
	})
	require.Error(t, err)

	rec, found, err := h.files.Get(context.Background(), fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.StatusCancelled, rec.Status)
}

func TestProcessFileCompensatesVectorsOnSaveFailure(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	fileID, err := h.engine.Register(ctx, "notes.txt", []byte("Revenue grew."), "tenant-a")
	require.NoError(t, err)

	// The record vanishes between indexing and persistence, so the
	// already-written vectors must be rolled back.
	err = h.engine.ProcessFile(ctx, fileID, "tenant-a", func(p Progress) {
		if p.Progress == 65 {
			require.NoError(t, h.files.Delete(ctx, fileID, "tenant-a"))
		}
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))

	require.NotEmpty(t, h.vec.deletes)
	assert.Equal(t, []string{fileID}, h.vec.deletes[0].FileIDs)
	assert.Equal(t, "tenant-a", h.vec.deletes[0].Namespace)
}

func TestProcessLegacyRequiresConverter(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	fileID, err := h.engine.Register(ctx, "deck.ppt", []byte("legacy slides"), "tenant-a")
	require.NoError(t, err)

	err = h.engine.ProcessFile(ctx, fileID, "tenant-a", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindUnsupported, fault.KindOf(err))

	rec, found, err := h.files.Get(ctx, fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.StatusFailed, rec.Status)
}

func TestProcessLegacyConvertsViaService(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/forms/libreoffice/convert", r.URL.Path)
		io.WriteString(w, "%PDF-1.7 not really")
	}))
	defer server.Close()

	conv, err := converter.New(&config.ConverterConfig{Endpoint: server.URL})
	require.NoError(t, err)

	h := newTestEngine(t, func(d *Deps) { d.Converter = conv })
	ctx := context.Background()

	fileID, err := h.engine.Register(ctx, "memo.doc", []byte("legacy word bytes"), "tenant-a")
	require.NoError(t, err)

	// The conversion runs and the derived PDF lands in the blob store;
	// the stand-in bytes then fail PDF parsing.
	err = h.engine.ProcessFile(ctx, fileID, "tenant-a", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindParse, fault.KindOf(err))
	assert.Equal(t, int32(1), hits.Load())

	rec, found, err := h.files.Get(ctx, fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.StatusFailed, rec.Status)

	derived, err := h.blobs.Download(ctx, rec.Path+".pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 not really", string(derived))
}

func TestDeleteFile(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	fileID, err := h.engine.Register(ctx, "notes.txt", []byte("Revenue grew."), "tenant-a")
	require.NoError(t, err)
	require.NoError(t, h.engine.ProcessFile(ctx, fileID, "tenant-a", nil))

	rec, found, err := h.files.Get(ctx, fileID, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, h.engine.DeleteFile(ctx, fileID, "tenant-a"))

	_, found, err = h.files.Get(ctx, fileID, "tenant-a")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = h.blobs.Download(ctx, rec.Path)
	assert.Error(t, err)

	require.NotEmpty(t, h.vec.deletes)
	assert.Equal(t, []string{fileID}, h.vec.deletes[0].FileIDs)
}

func TestDeleteFileUnknown(t *testing.T) {
	h := newTestEngine(t)

	err := h.engine.DeleteFile(context.Background(), "no-such-file", "tenant-a")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestIngestLocal(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Q3\n\nRevenue grew twelve percent."), 0o644))

	id1, err := h.engine.IngestLocal(ctx, path, "tenant-a", nil)
	require.NoError(t, err)

	rec, found, err := h.files.Get(ctx, id1, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "notes.md", rec.Name)
	assert.Equal(t, storage.StatusCompleted, rec.Status)

	// Re-ingesting the same path replaces rather than duplicates.
	id2, err := h.engine.IngestLocal(ctx, path, "tenant-a", nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestIngestLocalUnsupportedExtension(t *testing.T) {
	h := newTestEngine(t)

	_, err := h.engine.IngestLocal(context.Background(), "tool.exe", "tenant-a", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindUnsupported, fault.KindOf(err))
}

func TestIngestWeb(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body><h1>Q3 report</h1><p>Revenue grew twelve percent.</p></body></html>")
	}))
	defer page.Close()

	h := newTestEngine(t)
	ctx := context.Background()

	id, err := h.engine.IngestWeb(ctx, page.URL, "tenant-a", nil)
	require.NoError(t, err)

	rec, found, err := h.files.Get(ctx, id, "tenant-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, page.URL, rec.Name)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.True(t, strings.HasSuffix(rec.Path, "/source.html"))

	// The same URL maps to the same file id.
	id2, err := h.engine.IngestWeb(ctx, page.URL, "tenant-a", nil)
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestIngestWebFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer server.Close()

	h := newTestEngine(t)

	id, err := h.engine.IngestWeb(context.Background(), server.URL+"/gone", "tenant-a", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindExternalService, fault.KindOf(err))
	assert.Empty(t, id)
}

func TestIngestWebInvalidURL(t *testing.T) {
	h := newTestEngine(t)

	_, err := h.engine.IngestWeb(context.Background(), "not a url", "tenant-a", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestWatchIngestsNewFiles(t *testing.T) {
	h := newTestEngine(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.Watch(ctx, dir, "tenant-a", nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("Revenue grew twelve percent."), 0o644))

	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("tenant-a\x00"+path)).String()
	require.Eventually(t, func() bool {
		rec, found, err := h.files.Get(context.Background(), id, "tenant-a")
		return err == nil && found && rec.Status == storage.StatusCompleted
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchRequiresDirectory(t *testing.T) {
	h := newTestEngine(t)

	err := h.engine.Watch(context.Background(), "", "tenant-a", nil)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	err = h.engine.Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), "tenant-a", nil)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}
