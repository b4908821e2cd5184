package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/magpielabs/magpie/pkg/fault"
)

const fsOp = "blob.filesystem"

// Filesystem stores objects as files under a root directory.
type Filesystem struct {
	root string
}

// NewFilesystem creates the root directory if needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		return nil, fault.New(fault.KindValidation, "blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fault.Wrapf(fault.KindStorage, fsOp, err, "create blob root %s", dir)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := f.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrapf(fault.KindStorage, fsOp, err, "download %s", key)
	}
	return data, nil
}

func (f *Filesystem) Upload(ctx context.Context, key string, data []byte) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Wrapf(fault.KindStorage, fsOp, err, "upload %s", key)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fault.Wrapf(fault.KindStorage, fsOp, err, "upload %s", key)
	}
	return nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.Wrapf(fault.KindStorage, fsOp, err, "delete %s", key)
	}
	return nil
}

// resolve maps a key onto the root and rejects keys that would
// escape it.
func (f *Filesystem) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || filepath.IsAbs(clean) ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fault.Newf(fault.KindValidation, "blob key %q escapes the store root", key)
	}
	return filepath.Join(f.root, clean), nil
}
