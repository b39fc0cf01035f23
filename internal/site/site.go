// Package site ties the content tree to the store: it maps files to routes,
// loads and renders sources on demand, applies watch events and keeps the
// page index current.
package site

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/render"
	"github.com/starford/quill/internal/storage"
)

// Cache is the part of the store the site drives.
type Cache interface {
	Invalidate(route string)
	InvalidateAll()
	Remove(route string)
	ListRoutes() []string
}

// Notifier receives change notifications for live reload.
type Notifier interface {
	PageChanged(route, path string)
	PageRemoved(route, path string)
	SiteChanged()
}

type nopNotifier struct{}

func (nopNotifier) PageChanged(string, string) {}
func (nopNotifier) PageRemoved(string, string) {}
func (nopNotifier) SiteChanged()               {}

// Config describes the site layout on disk.
type Config struct {
	TemplatesDir string
	Collections  []Collection
}

// Site implements store.Loader.
type Site struct {
	fs           *storage.FS
	renderer     *render.Renderer
	db           *index.DB
	logger       *slog.Logger
	templatesDir string
	collections  []Collection

	templates atomic.Pointer[render.TemplateSet]
	cacheRef  atomic.Pointer[cacheHolder]
	notifier  Notifier

	mu     sync.RWMutex
	routes map[string]string // route -> source path
	paths  map[string]string // source path -> route

	rescanReq chan struct{}
}

type cacheHolder struct{ c Cache }

// Option configures a Site.
type Option func(*Site)

// WithNotifier sets the live-reload notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Site) {
		if n != nil {
			s.notifier = n
		}
	}
}

// New loads the template set, maps every source file to its route and
// brings the page index up to date.
func New(cfg Config, store *storage.FS, r *render.Renderer, db *index.DB, logger *slog.Logger, opts ...Option) (*Site, error) {
	s := &Site{
		fs:           store,
		renderer:     r,
		db:           db,
		logger:       logger,
		templatesDir: cfg.TemplatesDir,
		collections:  cfg.Collections,
		notifier:     nopNotifier{},
		routes:       make(map[string]string),
		paths:        make(map[string]string),
		rescanReq:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}

	set, err := render.LoadTemplates(cfg.TemplatesDir)
	if err != nil {
		return nil, err
	}
	s.templates.Store(set)

	if _, err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// Attach connects the cache the site invalidates. It must be called before
// events are handled.
func (s *Site) Attach(c Cache) {
	s.cacheRef.Store(&cacheHolder{c: c})
}

func (s *Site) cache() Cache {
	h := s.cacheRef.Load()
	if h == nil {
		return nil
	}
	return h.c
}

// Templates returns the current template set.
func (s *Site) Templates() *render.TemplateSet { return s.templates.Load() }

// scan rebuilds the route table from disk and syncs the index. It returns
// the routes that disappeared.
func (s *Site) scan() ([]string, error) {
	metas, err := s.fs.List("")
	if err != nil {
		return nil, err
	}
	routes := make(map[string]string, len(metas))
	paths := make(map[string]string, len(metas))
	// sorted so a/index.md deterministically wins over a.md
	sort.Slice(metas, func(i, j int) bool { return metas[i].Path < metas[j].Path })
	for _, m := range metas {
		r := RouteFor(m.Path)
		routes[r] = m.Path
		paths[m.Path] = r
	}

	s.mu.Lock()
	var gone []string
	for r := range s.routes {
		if _, ok := routes[r]; !ok {
			gone = append(gone, r)
		}
	}
	s.routes, s.paths = routes, paths
	s.mu.Unlock()

	if _, err := index.Sync(s.db, s.fs, s.indexRow, s.logger); err != nil {
		return gone, fmt.Errorf("site: sync index: %w", err)
	}
	return gone, nil
}

// indexRow builds the page index row for a content file.
func (s *Site) indexRow(rel string, data []byte) (index.PageRow, string, error) {
	if !IsPage(rel) {
		return index.PageRow{}, "", index.ErrSkip
	}
	doc, err := s.renderer.Parse(render.Input{Route: RouteFor(rel), Path: rel, Source: data})
	if err != nil {
		return index.PageRow{}, "", err
	}
	return index.PageRow{
		Route:       doc.Page.Route,
		Dir:         dirOf(rel),
		Title:       doc.Page.Title,
		Description: doc.Page.Description,
		Published:   doc.Page.Published,
		Draft:       doc.Page.Draft,
		Tags:        doc.Page.Tags,
		UpdatedAt:   time.Now(),
	}, doc.Source.Body, nil
}

// Source returns the file backing route.
func (s *Site) Source(route string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.routes[route]
	return p, ok
}

// Routes returns every route the site can serve, sorted.
func (s *Site) Routes() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.routes))
	for r, p := range s.routes {
		if _, _, shadowed := s.matchCollection(r); shadowed {
			continue
		}
		if IsPage(p) && !s.renderer.Site().Development {
			if row, err := s.db.GetPage(p); err == nil && row.Draft {
				continue
			}
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	out = append(out, s.collectionRoutes()...)
	sort.Strings(out)
	return out
}

// Search looks up pages in the index.
func (s *Site) Search(query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Load renders route. It is called by the store on a pool worker.
func (s *Site) Load(ctx context.Context, route string) (*models.Artifact, error) {
	if c, n, ok := s.matchCollection(route); ok {
		return s.renderCollection(ctx, route, c, n)
	}

	rel, ok := s.Source(route)
	if !ok {
		return nil, fmt.Errorf("site: %s: %w", route, apperr.ErrNotFound)
	}

	data, err := s.fs.Read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		s.forget(rel)
		return nil, fmt.Errorf("site: %s: %w", route, apperr.ErrNotFound)
	}
	if err != nil {
		s.logger.Error("site: read failed, requesting rescan",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		s.RequestRescan()
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrRenderFailed, route, err)
	}

	if !IsPage(rel) {
		ct, _ := ContentType(rel)
		return &models.Artifact{
			Route:       route,
			SourcePath:  rel,
			Body:        data,
			ContentType: ct,
			ContentHash: checksum.Content(data),
		}, nil
	}

	in := render.Input{Route: route, Path: rel, Source: data}
	if info, err := s.fs.Stat(rel); err == nil {
		in.ModTime = info.UpdatedAt
	}
	art, doc, err := s.renderer.Render(in, s.templates.Load())
	if doc != nil && doc.Page.Draft && !s.renderer.Site().Development {
		return nil, fmt.Errorf("site: %s is a draft: %w", route, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return art, nil
}

// forget drops rel from the route table.
func (s *Site) forget(rel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.paths[rel]
	if !ok {
		return "", false
	}
	delete(s.paths, rel)
	if s.routes[r] == rel {
		delete(s.routes, r)
		// hand the route to another file deriving it (a.md vs a/index.md)
		for p, pr := range s.paths {
			if pr == r && (s.routes[r] == "" || p > s.routes[r]) {
				s.routes[r] = p
			}
		}
	}
	return r, true
}

// register maps rel to its route and returns it.
func (s *Site) register(rel string) string {
	r := RouteFor(rel)
	s.mu.Lock()
	s.routes[r] = rel
	s.paths[rel] = r
	s.mu.Unlock()
	return r
}

func (s *Site) relPath(abs string) (string, bool) {
	return s.fs.Rel(filepath.Clean(abs))
}
