// Package ingest drives the file pipeline: download the original
// bytes, convert legacy office formats to PDF, parse, extract intake
// metadata, chunk, index the vectors and record the results. A
// weighted semaphore shared by every entry point bounds concurrent
// runs, and each run carries a wall-clock timeout.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/magpielabs/magpie/pkg/blob"
	"github.com/magpielabs/magpie/pkg/chunker"
	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/converter"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/generator"
	"github.com/magpielabs/magpie/pkg/httpclient"
	"github.com/magpielabs/magpie/pkg/index"
	"github.com/magpielabs/magpie/pkg/parser"
	"github.com/magpielabs/magpie/pkg/storage"
)

const op = "ingest"

// Progress is one pipeline progress event.
type Progress struct {
	FileID   string `json:"file_id"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// ProgressFunc observes pipeline progress. Calls happen inline on the
// pipeline goroutine, so implementations must not block.
type ProgressFunc func(Progress)

// convertible formats are turned into PDFs before parsing.
var convertible = map[string]bool{
	".doc": true, ".ppt": true, ".rtf": true, ".odt": true,
}

// supported lists every extension the pipeline accepts: the parser's
// native formats plus the converter-backed legacy ones.
var supported = map[string]bool{
	".pdf": true, ".docx": true, ".pptx": true, ".html": true, ".htm": true,
	".md": true, ".markdown": true, ".txt": true,
	".xlsx": true, ".xlsm": true, ".xls": true, ".csv": true,
	".doc": true, ".ppt": true, ".rtf": true, ".odt": true,
}

// Deps are the components the engine drives.
type Deps struct {
	Files     *storage.FileStore
	Blobs     blob.Store
	Parser    *parser.Parser
	Chunker   *chunker.Chunker
	Generator *generator.Generator
	Indexer   *index.Indexer

	// Converter is optional; without it legacy office formats fail
	// with fault.KindUnsupported.
	Converter *converter.Client
}

// Engine runs the file pipeline.
type Engine struct {
	deps    Deps
	fetch   *httpclient.Client
	logger  *slog.Logger
	sem     *semaphore.Weighted
	timeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConcurrency bounds simultaneous pipeline runs.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeout bounds one pipeline run.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates the engine. Every Deps field except Converter is
// required.
func New(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Files == nil || deps.Blobs == nil || deps.Parser == nil ||
		deps.Chunker == nil || deps.Generator == nil || deps.Indexer == nil {
		return nil, fault.New(fault.KindValidation, "ingest engine is missing a required component")
	}

	e := &Engine{
		deps:    deps,
		fetch:   httpclient.New(),
		logger:  slog.Default(),
		sem:     semaphore.NewWeighted(int64(config.DefaultFileConcurrency)),
		timeout: config.DefaultFileTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register stores raw bytes under the tenant and creates the pending
// file record. Processing is a separate step.
func (e *Engine) Register(ctx context.Context, name string, data []byte, namespace string) (string, error) {
	if name == "" || namespace == "" {
		return "", fault.New(fault.KindValidation, "file name and namespace are required")
	}
	if len(data) == 0 {
		return "", fault.New(fault.KindEmptyDocument, "file is empty")
	}
	return e.register(ctx, uuid.NewString(), name, filepath.Base(name), data, namespace)
}

// IngestLocal registers a local file and immediately processes it.
// The file id derives from the path, so re-ingesting the same file
// replaces its previous record and vectors.
func (e *Engine) IngestLocal(ctx context.Context, path, namespace string, onProgress ProgressFunc) (string, error) {
	if path == "" || namespace == "" {
		return "", fault.New(fault.KindValidation, "path and namespace are required")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supported[ext] {
		return "", fault.Newf(fault.KindUnsupported, "unsupported file extension %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, op, err)
	}
	if len(data) == 0 {
		return "", fault.Newf(fault.KindEmptyDocument, "file %s is empty", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"\x00"+abs)).String()

	name := filepath.Base(path)
	if _, err := e.register(ctx, id, name, name, data, namespace); err != nil {
		return "", err
	}
	return id, e.ProcessFile(ctx, id, namespace, onProgress)
}

// register uploads the bytes and upserts the file record.
func (e *Engine) register(ctx context.Context, id, name, keyName string, data []byte, namespace string) (string, error) {
	key := blobKey(namespace, id, keyName)
	if err := e.deps.Blobs.Upload(ctx, key, data); err != nil {
		return "", err
	}

	rec := &storage.FileRecord{
		ID:        id,
		Namespace: namespace,
		Name:      name,
		Path:      key,
		Size:      int64(len(data)),
		Hash:      contentHash(data),
		Status:    storage.StatusPending,
	}
	if err := e.deps.Files.Put(ctx, rec); err != nil {
		return "", err
	}
	return id, nil
}

// ProcessFile runs the pipeline for a registered file. On failure the
// record is marked failed, or cancelled when the caller gave up.
func (e *Engine) ProcessFile(ctx context.Context, fileID, namespace string, onProgress ProgressFunc) error {
	if fileID == "" || namespace == "" {
		return fault.New(fault.KindValidation, "file id and namespace are required")
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fault.Wrap(fault.KindCancelled, op, err)
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.process(ctx, fileID, namespace, onProgress); err != nil {
		e.recordFailure(ctx, fileID, namespace, err)
		return err
	}
	return nil
}

func (e *Engine) process(ctx context.Context, fileID, namespace string, onProgress ProgressFunc) error {
	rec, found, err := e.deps.Files.Get(ctx, fileID, namespace)
	if err != nil {
		return err
	}
	if !found {
		return fault.Newf(fault.KindValidation, "file %s not found", fileID)
	}

	if err := e.deps.Files.SetStatus(ctx, fileID, namespace, storage.StatusProcessing); err != nil {
		return err
	}

	emit(onProgress, Progress{FileID: fileID, Progress: 0, Message: "Downloading"})
	data, err := e.deps.Blobs.Download(ctx, rec.Path)
	if err != nil {
		return err
	}

	path, err := writeTemp(data, recordExt(rec))
	if err != nil {
		return err
	}
	defer os.Remove(path)

	if convertible[recordExt(rec)] {
		converted, err := e.convert(ctx, rec, path)
		if err != nil {
			return err
		}
		defer os.Remove(converted)
		path = converted
	}

	emit(onProgress, Progress{FileID: fileID, Progress: 20, Message: "Parsing"})
	doc, err := e.deps.Parser.Parse(ctx, path, rec.Name)
	if err != nil {
		return err
	}

	emit(onProgress, Progress{FileID: fileID, Progress: 45, Message: "Analyzing"})
	meta := e.deps.Generator.Intake(ctx, doc.Intake, rec.Name)

	file := document.File{ID: fileID, Name: rec.Name}
	result, err := e.deps.Chunker.Chunk(doc, file)
	if err != nil {
		return err
	}

	emit(onProgress, Progress{FileID: fileID, Progress: 65, Message: "Indexing"})
	if err := e.deps.Indexer.Index(ctx, file, meta, result.Chunks, namespace); err != nil {
		return err
	}

	if err := e.saveResults(ctx, fileID, namespace, meta, result); err != nil {
		// The vectors are in but the record is not; remove them so a
		// retry starts clean.
		if delErr := e.deps.Indexer.Delete(context.WithoutCancel(ctx), fileID, namespace); delErr != nil {
			e.logger.Error("compensating vector delete failed", "file_id", fileID, "error", delErr)
		}
		return err
	}

	e.logger.Info("file processed",
		"file_id", fileID,
		"file", rec.Name,
		"namespace", namespace,
		"chunks", len(result.Chunks))
	return nil
}

func (e *Engine) saveResults(ctx context.Context, fileID, namespace string, meta document.Meta, result *document.ParseResult) error {
	if err := e.deps.Files.SaveResults(ctx, fileID, namespace, meta, result); err != nil {
		return err
	}
	return e.deps.Files.SetStatus(ctx, fileID, namespace, storage.StatusCompleted)
}

// convert produces a temp PDF from a legacy office document. The
// derived PDF is stored next to the original; parsing continues on the
// local copy even when that upload fails.
func (e *Engine) convert(ctx context.Context, rec *storage.FileRecord, path string) (string, error) {
	if e.deps.Converter == nil {
		return "", fault.Newf(fault.KindUnsupported, "no converter configured for %q files", recordExt(rec))
	}

	pdf, err := e.deps.Converter.Convert(ctx, path)
	if err != nil {
		return "", err
	}
	if err := e.deps.Blobs.Upload(ctx, rec.Path+".pdf", pdf); err != nil {
		e.logger.Warn("derived pdf upload failed", "file_id", rec.ID, "error", err)
	}
	return writeTemp(pdf, ".pdf")
}

// DeleteFile removes the file's vectors, stored bytes and record.
func (e *Engine) DeleteFile(ctx context.Context, fileID, namespace string) error {
	if fileID == "" || namespace == "" {
		return fault.New(fault.KindValidation, "file id and namespace are required")
	}

	rec, found, err := e.deps.Files.Get(ctx, fileID, namespace)
	if err != nil {
		return err
	}
	if !found {
		return fault.Newf(fault.KindValidation, "file %s not found", fileID)
	}

	if err := e.deps.Indexer.Delete(ctx, fileID, namespace); err != nil {
		return err
	}

	if rec.Path != "" {
		if err := e.deps.Blobs.Delete(ctx, rec.Path); err != nil {
			e.logger.Warn("blob delete failed", "file_id", fileID, "error", err)
		}
		if convertible[recordExt(rec)] {
			if err := e.deps.Blobs.Delete(ctx, rec.Path+".pdf"); err != nil {
				e.logger.Warn("derived pdf delete failed", "file_id", fileID, "error", err)
			}
		}
	}

	return e.deps.Files.Delete(ctx, fileID, namespace)
}

// recordFailure marks the record failed, or cancelled when the error
// chain shows the caller gave up.
func (e *Engine) recordFailure(ctx context.Context, fileID, namespace string, err error) {
	status := storage.StatusFailed
	if errors.Is(err, context.Canceled) || fault.IsKind(err, fault.KindCancelled) {
		status = storage.StatusCancelled
	}
	if setErr := e.deps.Files.SetStatus(context.WithoutCancel(ctx), fileID, namespace, status); setErr != nil {
		e.logger.Error("failed to record file status",
			"file_id", fileID,
			"status", status,
			"error", setErr)
	}
}

func emit(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}

// recordExt picks the extension that decides parsing: the blob key's
// when present (web records carry a URL as their name), the display
// name's otherwise.
func recordExt(rec *storage.FileRecord) string {
	if ext := strings.ToLower(filepath.Ext(rec.Path)); ext != "" {
		return ext
	}
	return strings.ToLower(filepath.Ext(rec.Name))
}

func blobKey(namespace, fileID, name string) string {
	return namespace + "/" + fileID + "/" + name
}

func contentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// writeTemp spills data to a temp file carrying the right extension
// for parser dispatch. The caller removes the file.
func writeTemp(data []byte, ext string) (string, error) {
	f, err := os.CreateTemp("", "magpie-*"+ext)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, op, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fault.Wrap(fault.KindInternal, op, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fault.Wrap(fault.KindInternal, op, err)
	}
	return f.Name(), nil
}
