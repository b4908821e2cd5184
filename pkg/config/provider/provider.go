// Package provider abstracts where the config document comes from.
// Files are the only source today; the interface exists so a remote
// source can slot in without touching the loader.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Type names a config source kind.
type Type string

// TypeFile reads the document from local disk.
const TypeFile Type = "file"

// Provider hands raw config bytes to the loader and, optionally,
// signals when they change. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Type identifies the source for logs.
	Type() Type

	// Load returns the current document.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that signals on change, or a nil channel
	// when the source cannot watch. Cancelling ctx stops the watch.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases the source.
	Close() error
}

// ProviderConfig selects and parameterizes a source.
type ProviderConfig struct {
	Type Type
	Path string
}

// New builds the source opts describe. An empty Type means file.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, errors.New("config path is required")
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	default:
		return nil, fmt.Errorf("unknown config provider type %q", opts.Type)
	}
}
