package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/magpielabs/magpie/pkg/fault"
)

// watchDebounce coalesces the event bursts editors and copy tools
// produce while writing a file.
const watchDebounce = 500 * time.Millisecond

// Watch ingests supported files dropped into dir until ctx is
// cancelled. Create and write events are debounced per path, and each
// path maps to a stable file id, so rewrites replace rather than
// duplicate.
func (e *Engine) Watch(ctx context.Context, dir, namespace string, onProgress ProgressFunc) error {
	if dir == "" || namespace == "" {
		return fault.New(fault.KindValidation, "directory and namespace are required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fault.Wrap(fault.KindInternal, op, err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fault.Wrapf(fault.KindValidation, op, err, "watch %s", dir)
	}
	e.logger.Info("watching directory", "dir", dir, "namespace", namespace)

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			path := event.Name
			if !supported[strings.ToLower(filepath.Ext(path))] {
				continue
			}

			mu.Lock()
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(watchDebounce, func() {
				mu.Lock()
				delete(timers, path)
				mu.Unlock()

				if ctx.Err() != nil {
					return
				}
				if _, err := e.IngestLocal(ctx, path, namespace, onProgress); err != nil {
					e.logger.Error("watched file ingest failed", "path", path, "error", err)
				}
			})
			mu.Unlock()

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watcher error", "error", werr)
		}
	}
}
