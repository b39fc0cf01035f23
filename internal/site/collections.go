package site

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/render"
)

// Collection is a directory whose pages get paginated list routes:
// /<dir> for the first page and /<dir>/page/<n> for the rest.
type Collection struct {
	Dir     string
	Title   string
	PerPage int
	Layout  string
}

func (c Collection) route() string { return "/" + c.Dir }

func (c Collection) pageRoute(n int) string {
	if n <= 1 {
		return c.route()
	}
	return fmt.Sprintf("/%s/page/%d", c.Dir, n)
}

func (c Collection) perPage() int {
	if c.PerPage <= 0 {
		return 10
	}
	return c.PerPage
}

// contains reports whether rel lives at or below the collection directory.
func (c Collection) contains(rel string) bool {
	return strings.HasPrefix(rel, c.Dir+"/")
}

// matchCollection returns the collection and page number route names.
func (s *Site) matchCollection(route string) (Collection, int, bool) {
	for _, c := range s.collections {
		base := c.route()
		if route == base {
			return c, 1, true
		}
		rest, ok := strings.CutPrefix(route, base+"/page/")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 2 || strconv.Itoa(n) != rest {
			// /page/1 and malformed numbers are not canonical
			return Collection{}, 0, false
		}
		return c, n, true
	}
	return Collection{}, 0, false
}

func (s *Site) totalPages(c Collection) (int, error) {
	count, err := s.db.CountCollection(c.Dir)
	if err != nil {
		return 0, err
	}
	per := c.perPage()
	return max(1, (count+per-1)/per), nil
}

func (s *Site) renderCollection(_ context.Context, route string, c Collection, n int) (*models.Artifact, error) {
	total, err := s.totalPages(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrRenderFailed, route, err)
	}
	if n > total {
		return nil, fmt.Errorf("site: %s: page %d of %d: %w", c.Dir, n, total, apperr.ErrNotFound)
	}

	per := c.perPage()
	rows, err := s.db.ListCollection(c.Dir, per, (n-1)*per)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrRenderFailed, route, err)
	}
	list := render.List{PageNum: n, TotalPages: total}
	for _, r := range rows {
		list.Pages = append(list.Pages, render.Page{
			Route:       r.Route,
			Path:        r.Path,
			Title:       r.Title,
			Description: r.Description,
			Tags:        r.Tags,
			Published:   r.Published,
			Meta:        map[string]any{},
		})
	}
	if n > 1 {
		list.PrevURL = c.pageRoute(n - 1)
	}
	if n < total {
		list.NextURL = c.pageRoute(n + 1)
	}

	title := c.Title
	if title == "" {
		title = c.Dir
	}
	return s.renderer.RenderList(route, title, c.Layout, list, s.templates.Load())
}

// collectionRoutes returns every list route currently backed by pages.
func (s *Site) collectionRoutes() []string {
	var out []string
	for _, c := range s.collections {
		total, err := s.totalPages(c)
		if err != nil {
			s.logger.Warn("site: count collection failed", slog.String("dir", c.Dir), slog.String("error", err.Error()))
			continue
		}
		for n := 1; n <= total; n++ {
			out = append(out, c.pageRoute(n))
		}
	}
	return out
}

// invalidateCollections marks the list routes of every collection holding
// rel stale, including cached pages beyond the current page count.
func (s *Site) invalidateCollections(rel string) {
	cache := s.cache()
	if cache == nil {
		return
	}
	for _, c := range s.collections {
		if !c.contains(rel) {
			continue
		}
		cache.Invalidate(c.route())
		prefix := c.route() + "/page/"
		for _, r := range cache.ListRoutes() {
			if strings.HasPrefix(r, prefix) {
				cache.Invalidate(r)
			}
		}
	}
}
