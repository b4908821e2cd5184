// Package blob stores the original uploaded bytes and any derived
// artifacts (converted PDFs). Objects are addressed by slash-separated
// keys scoped under a single bucket or root directory.
package blob

import (
	"context"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Store reads and writes raw file bytes.
type Store interface {
	// Download returns the full object. A missing object is an error.
	Download(ctx context.Context, key string) ([]byte, error)

	// Upload writes the object, replacing any previous content.
	Upload(ctx context.Context, key string, data []byte) error

	// Delete removes the object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// New builds a blob store from configuration.
func New(ctx context.Context, cfg *config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case config.BlobBackendFilesystem, "":
		return NewFilesystem(cfg.Dir)
	case config.BlobBackendS3:
		return NewS3(ctx, cfg)
	default:
		return nil, fault.Newf(fault.KindValidation, "unknown blob backend %q", cfg.Backend)
	}
}
