package site

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/render"
	"github.com/starford/quill/internal/watcher"
)

// HandleEvent applies one coalesced filesystem change.
func (s *Site) HandleEvent(ctx context.Context, ev watcher.Event) {
	if ev.Kind == watcher.Rescan {
		s.Rescan(ctx)
		return
	}
	if s.inTemplates(ev.Path) {
		s.ReloadTemplates()
		return
	}

	rel, ok := s.relPath(ev.Path)
	if !ok || !s.fs.Matches(rel) {
		return
	}

	kind := ev.Kind
	if kind != watcher.Removed {
		// the file may be gone again by the time the window closes
		if _, err := s.fs.Stat(rel); errors.Is(err, fs.ErrNotExist) {
			kind = watcher.Removed
		}
	}

	s.logger.Debug("site: change", slog.String("path", rel), slog.String("kind", kind.String()))
	if kind == watcher.Removed {
		s.removeSource(rel)
		return
	}
	s.updateSource(rel)
}

func (s *Site) updateSource(rel string) {
	route := s.register(rel)
	if IsPage(rel) {
		s.reindex(rel)
		s.invalidateCollections(rel)
	}
	if c := s.cache(); c != nil {
		c.Invalidate(route)
	}
	s.notifier.PageChanged(route, rel)
}

func (s *Site) removeSource(rel string) {
	route, ok := s.forget(rel)
	if !ok {
		route = RouteFor(rel)
	}
	if IsPage(rel) {
		if err := s.db.DeletePage(rel); err != nil {
			s.logger.Warn("site: unindex failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		s.invalidateCollections(rel)
	}
	if c := s.cache(); c != nil {
		if owner, still := s.Source(route); still && owner != rel {
			// another file serves this route now (a.md vs a/index.md)
			c.Invalidate(route)
		} else {
			c.Remove(route)
		}
	}
	s.notifier.PageRemoved(route, rel)
}

func (s *Site) reindex(rel string) {
	data, err := s.fs.Read(rel)
	if err != nil {
		s.logger.Warn("site: read for index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if err := index.IndexFile(s.db, rel, data, s.indexRow); err != nil && !errors.Is(err, index.ErrSkip) {
		// the render reports parse errors; keep the old row meanwhile
		s.logger.Debug("site: index failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

func (s *Site) inTemplates(p string) bool {
	if s.templatesDir == "" {
		return false
	}
	dir, err := filepath.Abs(s.templatesDir)
	if err != nil {
		return false
	}
	return p == dir || strings.HasPrefix(p, dir+string(os.PathSeparator))
}

// ReloadTemplates re-reads the template directory. On success every route
// is invalidated; on failure the previous set stays in use.
func (s *Site) ReloadTemplates() {
	set, err := render.LoadTemplates(s.templatesDir)
	if err != nil {
		s.logger.Error("site: template reload failed, keeping previous set", slog.String("error", err.Error()))
		return
	}
	if old := s.templates.Load(); old != nil && old.Hash() == set.Hash() {
		return
	}
	s.templates.Store(set)
	s.logger.Info("site: templates reloaded", slog.Int("templates", len(set.Names())))
	if c := s.cache(); c != nil {
		c.InvalidateAll()
	}
	s.notifier.SiteChanged()
}

// Rescan treats the whole tree as changed: templates are reloaded, the
// route table and index rebuilt, vanished routes evicted and everything
// else invalidated.
func (s *Site) Rescan(_ context.Context) {
	s.logger.Info("site: full rescan")
	if set, err := render.LoadTemplates(s.templatesDir); err != nil {
		s.logger.Error("site: template reload failed, keeping previous set", slog.String("error", err.Error()))
	} else {
		s.templates.Store(set)
	}

	gone, err := s.scan()
	if err != nil {
		s.logger.Error("site: rescan failed", slog.String("error", err.Error()))
	}
	if c := s.cache(); c != nil {
		for _, r := range gone {
			c.Remove(r)
		}
		c.InvalidateAll()
	}
	s.notifier.SiteChanged()
}

// RequestRescan asks Run to rescan. Requests made while one is pending
// collapse into one.
func (s *Site) RequestRescan() {
	select {
	case s.rescanReq <- struct{}{}:
	default:
	}
}

// Run services rescan requests until ctx is cancelled.
func (s *Site) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.rescanReq:
			s.Rescan(ctx)
		}
	}
}
