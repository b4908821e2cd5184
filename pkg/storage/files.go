package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
)

const filesOp = "storage.files"

// Pipeline lifecycle statuses for a file record.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// FileRecord is one ingested document and its parse products. Content
// holds the citable units keyed by unit id, Sheets the full
// spreadsheets for truncated-table recovery.
type FileRecord struct {
	ID        string
	Namespace string
	Name      string
	Path      string
	Size      int64
	Hash      string
	Status    string
	Meta      document.Meta
	Content   map[string]document.Unit
	Sheets    map[string]document.Sheet
	CreatedAt time.Time
	UpdatedAt time.Time
}

const filesSchema = `
CREATE TABLE IF NOT EXISTS files (
    id VARCHAR(255) PRIMARY KEY,
    namespace VARCHAR(255) NOT NULL,
    name TEXT NOT NULL,
    path TEXT,
    size BIGINT NOT NULL,
    hash VARCHAR(64),
    status VARCHAR(32) NOT NULL,
    metadata TEXT,
    content TEXT,
    sheets TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const filesIndex = `CREATE INDEX IF NOT EXISTS idx_files_namespace ON files(namespace)`

// FileStore reads and writes file records.
type FileStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger overrides the default logger.
func WithFileStoreLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) { s.logger = logger }
}

// NewFileStore wraps an open database handle. driver names the SQL
// dialect: "sqlite3", "postgres" or "mysql".
func NewFileStore(db *sql.DB, driver string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{db: db, driver: driver, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the files table if it does not exist. This is a
// bootstrap for fresh databases, not a migration mechanism.
func (s *FileStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, filesSchema); err != nil {
		return fault.Wrap(fault.KindStorage, filesOp, err)
	}
	if _, err := s.db.ExecContext(ctx, filesIndex); err != nil {
		// MySQL has no IF NOT EXISTS on indexes; an existing index
		// lands here on restart.
		s.logger.Debug("files index not created", "error", err)
	}
	return nil
}

// Put inserts or fully replaces a file record. CreatedAt is set on
// first write, UpdatedAt on every write.
func (s *FileStore) Put(ctx context.Context, rec *FileRecord) error {
	if rec.ID == "" || rec.Namespace == "" {
		return &fault.Error{Kind: fault.KindValidation, Op: filesOp, Msg: "file id and namespace are required"}
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	metadata, content, sheets, err := encodeRecord(rec)
	if err != nil {
		return fault.Wrap(fault.KindStorage, filesOp, err)
	}

	query := `
INSERT INTO files (id, namespace, name, path, size, hash, status, metadata, content, sheets, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    namespace = excluded.namespace,
    name = excluded.name,
    path = excluded.path,
    size = excluded.size,
    hash = excluded.hash,
    status = excluded.status,
    metadata = excluded.metadata,
    content = excluded.content,
    sheets = excluded.sheets,
    updated_at = excluded.updated_at`
	if s.driver == "mysql" {
		query = `
INSERT INTO files (id, namespace, name, path, size, hash, status, metadata, content, sheets, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    namespace = VALUES(namespace),
    name = VALUES(name),
    path = VALUES(path),
    size = VALUES(size),
    hash = VALUES(hash),
    status = VALUES(status),
    metadata = VALUES(metadata),
    content = VALUES(content),
    sheets = VALUES(sheets),
    updated_at = VALUES(updated_at)`
	}

	_, err = s.db.ExecContext(ctx, rebind(s.driver, query),
		rec.ID, rec.Namespace, rec.Name, rec.Path, rec.Size, rec.Hash, rec.Status,
		metadata, content, sheets, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fault.Wrap(fault.KindStorage, filesOp, err)
	}
	return nil
}

// Get returns the record for a file within a namespace.
func (s *FileStore) Get(ctx context.Context, id, namespace string) (*FileRecord, bool, error) {
	query := rebind(s.driver, `
SELECT id, namespace, name, path, size, hash, status, metadata, content, sheets, created_at, updated_at
FROM files
WHERE id = ? AND namespace = ?`)

	var rec FileRecord
	var metadata, content, sheets string
	err := s.db.QueryRowContext(ctx, query, id, namespace).Scan(
		&rec.ID, &rec.Namespace, &rec.Name, &rec.Path, &rec.Size, &rec.Hash, &rec.Status,
		&metadata, &content, &sheets, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fault.Wrap(fault.KindStorage, filesOp, err)
	}

	if err := decodeRecord(&rec, metadata, content, sheets); err != nil {
		return nil, false, fault.Wrapf(fault.KindStorage, filesOp, err, "corrupt record for file %s", id)
	}
	return &rec, true, nil
}

// Sheets returns the stored full sheets for a file, nil when the file
// is unknown or has none.
func (s *FileStore) Sheets(ctx context.Context, id, namespace string) (map[string]document.Sheet, error) {
	query := rebind(s.driver, `SELECT sheets FROM files WHERE id = ? AND namespace = ?`)

	var raw string
	err := s.db.QueryRowContext(ctx, query, id, namespace).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorage, filesOp, err)
	}
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var sheets map[string]document.Sheet
	if err := json.Unmarshal([]byte(raw), &sheets); err != nil {
		return nil, fault.Wrapf(fault.KindStorage, filesOp, err, "corrupt sheets for file %s", id)
	}
	return sheets, nil
}

// SetStatus moves a file through the pipeline lifecycle.
func (s *FileStore) SetStatus(ctx context.Context, id, namespace, status string) error {
	query := rebind(s.driver, `UPDATE files SET status = ?, updated_at = ? WHERE id = ? AND namespace = ?`)

	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id, namespace)
	if err != nil {
		return fault.Wrap(fault.KindStorage, filesOp, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fault.Newf(fault.KindStorage, "file %s not found", id)
	}
	return nil
}

// SaveResults stores the parse products and inferred metadata for a
// processed file.
func (s *FileStore) SaveResults(ctx context.Context, id, namespace string, meta document.Meta, result *document.ParseResult) error {
	rec := &FileRecord{Meta: meta}
	if result != nil {
		rec.Content = result.Content
		rec.Sheets = result.Sheets
	}
	metadata, content, sheets, err := encodeRecord(rec)
	if err != nil {
		return fault.Wrap(fault.KindStorage, filesOp, err)
	}

	query := rebind(s.driver, `
UPDATE files SET metadata = ?, content = ?, sheets = ?, updated_at = ? WHERE id = ? AND namespace = ?`)

	res, err := s.db.ExecContext(ctx, query, metadata, content, sheets, time.Now().UTC(), id, namespace)
	if err != nil {
		return fault.Wrap(fault.KindStorage, filesOp, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fault.Newf(fault.KindStorage, "file %s not found", id)
	}
	return nil
}

// Delete removes a file record within a namespace. Deleting a missing
// record is not an error.
func (s *FileStore) Delete(ctx context.Context, id, namespace string) error {
	query := rebind(s.driver, `DELETE FROM files WHERE id = ? AND namespace = ?`)
	if _, err := s.db.ExecContext(ctx, query, id, namespace); err != nil {
		return fault.Wrap(fault.KindStorage, filesOp, err)
	}
	return nil
}

func encodeRecord(rec *FileRecord) (metadata, content, sheets string, err error) {
	m, err := json.Marshal(rec.Meta)
	if err != nil {
		return "", "", "", err
	}
	c, err := json.Marshal(rec.Content)
	if err != nil {
		return "", "", "", err
	}
	sh, err := json.Marshal(rec.Sheets)
	if err != nil {
		return "", "", "", err
	}
	return string(m), string(c), string(sh), nil
}

func decodeRecord(rec *FileRecord, metadata, content, sheets string) error {
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &rec.Meta); err != nil {
			return err
		}
	}
	if content != "" && content != "null" {
		if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
			return err
		}
	}
	if sheets != "" && sheets != "null" {
		if err := json.Unmarshal([]byte(sheets), &rec.Sheets); err != nil {
			return err
		}
	}
	return nil
}
