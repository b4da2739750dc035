package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jpalmerr/gitfeed/internal/event"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reports changes to a persisted history artifact written by
// another process.
//
// The parent directory is watched rather than the file itself because
// atomic saves replace the file by rename, which would drop a watch held on
// the old inode. Bursts of filesystem events are coalesced into one reload.
type Watcher struct {
	path     string
	backend  Backend
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher for the artifact at path, reloading it
// through backend on change. A debounce of zero uses 250ms.
func NewWatcher(path string, backend Backend, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		backend:  backend,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run watches until ctx is cancelled, calling onChange with the reloaded
// history after each settled change. Reload failures are logged and skipped.
// Run closes the underlying watcher before returning.
func (w *Watcher) Run(ctx context.Context, onChange func([]event.Event)) error {
	defer func() { _ = w.fsw.Close() }()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Debug("watching history", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("history watcher error", "error", err)

		case <-fire:
			fire = nil
			events, err := w.backend.Load()
			if err != nil {
				w.logger.Warn("history reload failed", "path", w.path, "error", err)
				continue
			}
			onChange(events)
		}
	}
}

// relevant reports whether ev touches the artifact or one of its sidecar
// files (SQLite -wal/-journal). Temporary files from atomic saves are
// ignored; their rename onto the artifact produces its own event.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == w.path || strings.HasPrefix(name, w.path+"-")
}
