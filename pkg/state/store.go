// Package state persists section job records across requests. A Store
// is a small key-value surface with per-key TTLs: the memory backend
// serves a single process, redis and etcd share job state between
// replicas so a stream can reconnect to any of them.
package state

import (
	"context"
	"time"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Store is the durable job state surface.
type Store interface {
	// Get returns the stored value. A missing or expired key returns
	// found=false with a nil error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key for ttl. A non-positive ttl stores
	// without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend connection.
	Close() error
}

// New creates the store named by the configuration.
func New(cfg *config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case config.StateBackendMemory, "":
		return NewMemory(), nil
	case config.StateBackendRedis:
		return NewRedis(cfg)
	case config.StateBackendEtcd:
		return NewEtcd(cfg)
	default:
		return nil, fault.Newf(fault.KindValidation, "unknown state backend %q", cfg.Backend)
	}
}
