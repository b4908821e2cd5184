package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// writeDebounce coalesces the burst of events an editor save emits.
	writeDebounce = 100 * time.Millisecond

	// rewatchInterval and rewatchAttempts bound how long a deleted file
	// is polled before the watch is given up.
	rewatchInterval = 500 * time.Millisecond
	rewatchAttempts = 10
)

// FileProvider serves a config document from a file on disk. Watch
// reports writes to it, surviving the delete-and-recreate dance most
// editors and config mounts do on save.
type FileProvider struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileProvider resolves path and returns the provider. The file
// does not have to exist yet; Load fails until it does.
func NewFileProvider(path string) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}
	return &FileProvider{path: abs}, nil
}

func (p *FileProvider) Type() Type { return TypeFile }

// Load reads the whole file.
func (p *FileProvider) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", p.path, err)
	}
	return data, nil
}

// Watch emits a signal whenever the file is written or recreated. The
// watch is placed on the containing directory, not the file, so a
// rename-and-replace save keeps it alive. The channel closes when ctx
// ends or the provider is closed.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("provider is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", filepath.Dir(p.path), err)
	}
	p.watcher = watcher

	signals := make(chan struct{}, 1)
	go p.pump(ctx, watcher, signals)

	slog.Info("watching config file", "path", p.path)
	return signals, nil
}

// pump translates raw fsnotify events for our file into debounced
// change signals.
func (p *FileProvider) pump(ctx context.Context, watcher *fsnotify.Watcher, signals chan<- struct{}) {
	defer close(signals)
	defer watcher.Close()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	notify := func() {
		select {
		case signals <- struct{}{}:
			slog.Debug("config file changed", "path", p.path)
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(p.path) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(writeDebounce, notify)
			case event.Has(fsnotify.Remove):
				slog.Warn("config file deleted, waiting for it to return", "path", p.path)
				go p.rewatch(ctx, watcher, notify)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

// rewatch polls for the file to reappear after a delete and restores
// the directory watch, signalling one reload when it does.
func (p *FileProvider) rewatch(ctx context.Context, watcher *fsnotify.Watcher, notify func()) {
	ticker := time.NewTicker(rewatchInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < rewatchAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := os.Stat(p.path); err != nil {
			continue
		}
		if err := watcher.Add(filepath.Dir(p.path)); err != nil {
			continue
		}
		slog.Info("config file watch restored", "path", p.path)
		notify()
		return
	}
	slog.Warn("config file did not reappear, watch dropped", "path", p.path)
}

// Close stops any active watch. A closed provider rejects new watches.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

var _ Provider = (*FileProvider)(nil)
