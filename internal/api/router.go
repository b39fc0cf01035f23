package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Prefix is where the control endpoints live. Content can never claim it.
const Prefix = "/_quill"

// Options configures NewRouter. Pages and Catalog are required.
type Options struct {
	Pages       Pages
	Catalog     Catalog
	Highlighter CSSWriter
	// Events, if non-nil, is mounted at GET /_quill/events.
	Events http.Handler
	// AuthEnabled guards POST /_quill/invalidate with Token.
	AuthEnabled bool
	Token       string
}

// NewRouter creates a chi router serving pages at every path and the
// control endpoints under Prefix.
func NewRouter(opts Options) chi.Router {
	h := NewHandler(opts.Pages, opts.Catalog, opts.Highlighter)

	r := chi.NewRouter()
	r.Route(Prefix, func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/routes", h.Routes)
		r.Get("/search", h.Search)
		r.Get("/highlight.css", h.HighlightCSS)
		if opts.Events != nil {
			r.Get("/events", opts.Events.ServeHTTP)
		}
		r.With(AuthMiddleware(opts.AuthEnabled, opts.Token)).Post("/invalidate", h.Invalidate)
	})

	r.With(NoCache).Get("/*", h.Page)
	r.With(NoCache).Head("/*", h.Page)
	return r
}
