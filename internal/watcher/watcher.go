package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches one or more directory trees recursively and feeds a
// Debouncer. New directories are picked up as they appear.
type Watcher struct {
	fsw    *fsnotify.Watcher
	deb    *Debouncer
	logger *slog.Logger

	mu   sync.Mutex
	dirs map[string]struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebouncer replaces the default debouncer.
func WithDebouncer(d *Debouncer) Option {
	return func(w *Watcher) { w.deb = d }
}

// New creates a watcher on the given roots. Every root must exist.
func New(logger *slog.Logger, roots []string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:    fsw,
		logger: logger,
		dirs:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.deb == nil {
		w.deb = NewDebouncer(DefaultWindow, 0)
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		if err := w.addRecursive(abs, false); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run processes notifications and dispatches coalesced events to h until ctx
// is cancelled. It closes the underlying fsnotify watcher on return.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	defer w.fsw.Close()
	defer w.deb.Stop()

	dispatchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.deb.Run(dispatchCtx, h)
	}()
	defer func() {
		cancel()
		<-done
	}()

	w.logger.Info("watcher: started", slog.Int("dirs", w.dirCount()))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.handleError(err)
		}
	}
}

// handleError raises a Rescan: after a dropped or failed notification the
// per-file events can no longer be trusted.
func (w *Watcher) handleError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		w.logger.Warn("watcher: event queue overflow, rescanning")
	} else {
		w.logger.Error("watcher: error", slog.String("error", err.Error()))
	}
	w.deb.Rescan()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := ev.Name
	if Ignored(path) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addRecursive(path, true); err != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				w.deb.Rescan()
			}
			return
		}
		w.deb.Add(path, Created)

	case ev.Op&fsnotify.Write != 0:
		w.deb.Add(path, Modified)

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if w.forgetDir(path) {
			// a whole subtree went away; per-file events are not reliable
			w.logger.Debug("watcher: watched dir removed", slog.String("path", path))
			w.deb.Rescan()
			return
		}
		w.deb.Add(path, Removed)
	}
}

// addRecursive watches root and every directory below it. When announce is
// set, files already present are reported as Created; they may have been
// written before the watch was in place.
func (w *Watcher) addRecursive(root string, announce bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && Ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if announce {
				w.deb.Add(path, Created)
			}
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.mu.Lock()
		w.dirs[path] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) forgetDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[path]; !ok {
		return false
	}
	prefix := path + string(os.PathSeparator)
	for d := range w.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
	return true
}

func (w *Watcher) dirCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Ignored reports whether path names an editor temp or hidden file.
func Ignored(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"):
		return true
	case strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"):
		return true
	}
	return false
}
