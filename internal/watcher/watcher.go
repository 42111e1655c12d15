// Package watcher reloads the process table when another writer replaces
// the store file.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 500 * time.Millisecond

// Source is a file-backed store that can tell its own writes from foreign ones.
type Source interface {
	Path() string
	// Changed reports whether the file differs from what was last read or written.
	Changed() bool
}

// Reloader re-reads the table from the store.
type Reloader interface {
	Reload(ctx context.Context) int
}

// Watch blocks until ctx is cancelled, calling r.Reload after the store file
// was changed by someone else. The parent directory is watched because the
// file is replaced by rename on every save.
func Watch(ctx context.Context, src Source, r Reloader, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "watcher")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	path := filepath.Clean(src.Path())
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	logger.Info("watching store for external changes", "file", path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if ctx.Err() != nil || !src.Changed() {
			return
		}
		n := r.Reload(ctx)
		logger.Info("process table reloaded after external change", "records", n)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("store file event", "op", ev.Op)
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("file watcher error", "error", err)
		}
	}
}
