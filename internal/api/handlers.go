package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/site"
	"github.com/starford/quill/internal/store"
)

// FreshnessHeader reports how a served artifact relates to its source.
const FreshnessHeader = "X-Quill-Freshness"

// Pages is the artifact cache.
type Pages interface {
	Get(ctx context.Context, route string) (store.Result, error)
	Invalidate(route string)
	InvalidateAll()
	Stats() store.Stats
}

// Catalog lists and searches the site's routes.
type Catalog interface {
	Routes() []string
	Search(query string, limit int) ([]index.SearchResult, error)
}

// CSSWriter writes the stylesheet for highlighted code.
type CSSWriter interface {
	WriteCSS(w io.Writer) error
}

// Handler holds route handlers.
type Handler struct {
	pages   Pages
	catalog Catalog
	css     CSSWriter
}

// NewHandler creates a new Handler.
func NewHandler(pages Pages, catalog Catalog, css CSSWriter) *Handler {
	return &Handler{pages: pages, catalog: catalog, css: css}
}

// Page handles GET /*. It maps the store outcome onto a status code:
// not found is 404, a failed first render is 500 with the diagnostic
// page, everything else is 200 with FreshnessHeader set.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	route := site.NormalizeRoute(r.URL.Path)
	if route == Prefix || strings.HasPrefix(route, Prefix+"/") {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}

	res, err := h.pages.Get(r.Context(), route)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// client went away; nothing useful to write
		case errors.Is(err, apperr.ErrStoreClosed):
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		default:
			slog.Error("api: get failed", slog.String("route", route), slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	switch res.Outcome {
	case store.OutcomeNotFound:
		http.NotFound(w, r)
		return
	case store.OutcomeFailed:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set(FreshnessHeader, res.Freshness.String())
		w.WriteHeader(http.StatusInternalServerError)
		if res.Artifact != nil && r.Method != http.MethodHead {
			_, _ = w.Write(res.Artifact.Body)
		}
		return
	}

	art := res.Artifact
	etag := `"` + art.ContentHash + `"`
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("ETag", etag)
	w.Header().Set(FreshnessHeader, res.Freshness.String())
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(art.Body)
	}
}

// Health handles GET /_quill/health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"store":  h.pages.Stats(),
	})
}

// Routes handles GET /_quill/routes.
func (h *Handler) Routes(w http.ResponseWriter, _ *http.Request) {
	routes := h.catalog.Routes()
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": routes,
		"total":  len(routes),
	})
}

// Search handles GET /_quill/search?q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.catalog.Search(q, limit)
	if err != nil {
		slog.Error("api: search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// HighlightCSS handles GET /_quill/highlight.css.
func (h *Handler) HighlightCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	if h.css == nil {
		return
	}
	if err := h.css.WriteCSS(w); err != nil {
		slog.Error("api: highlight css failed", slog.String("error", err.Error()))
	}
}

// Invalidate handles POST /_quill/invalidate. An empty route invalidates
// everything.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Route string `json:"route"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Route == "" {
		h.pages.InvalidateAll()
		writeJSON(w, http.StatusOK, map[string]any{"invalidated": "*"})
		return
	}
	route := site.NormalizeRoute(req.Route)
	h.pages.Invalidate(route)
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": route})
}
