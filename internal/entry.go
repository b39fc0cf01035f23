// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quill/internal/api"
	"github.com/starford/quill/internal/export"
	"github.com/starford/quill/internal/highlight"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/mcpserver"
	"github.com/starford/quill/internal/parser"
	"github.com/starford/quill/internal/pool"
	"github.com/starford/quill/internal/render"
	"github.com/starford/quill/internal/site"
	"github.com/starford/quill/internal/sse"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/store"
	"github.com/starford/quill/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
}

// stack is every long-lived component, wired together.
type stack struct {
	db        *index.DB
	highlight *highlight.Registry
	site      *site.Site
	store     *store.Store
}

func buildStack(cfg *Config, logger *slog.Logger, notifier site.Notifier) (*stack, error) {
	for _, dir := range []string{cfg.Site.Root, cfg.Site.Templates} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fs, err := storage.NewFS(cfg.Site.Root, site.Exts()...)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	var schema *parser.Schema
	if cfg.Render.Schema != "" {
		if schema, err = parser.LoadSchema(cfg.Render.Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("load schema: %w", err)
		}
	}

	hl := highlight.NewRegistry(logger, cfg.Render.HighlightStyle, cfg.Render.Languages...)
	renderer := render.New(render.Options{
		Site: render.Site{
			Title:       cfg.Site.Title,
			BaseURL:     cfg.Site.BaseURL,
			Development: cfg.Site.Development,
			Params:      cfg.Site.Params,
		},
		DefaultLayout: cfg.Render.DefaultLayout,
		Highlighter:   hl,
		Schema:        schema,
	})

	collections := make([]site.Collection, 0, len(cfg.Collections))
	for _, c := range cfg.Collections {
		collections = append(collections, c.collection())
	}

	var siteOpts []site.Option
	if notifier != nil {
		siteOpts = append(siteOpts, site.WithNotifier(notifier))
	}
	s, err := site.New(site.Config{TemplatesDir: cfg.Site.Templates, Collections: collections}, fs, renderer, db, logger, siteOpts...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init site: %w", err)
	}

	workers := pool.New(logger, cfg.Render.WorkerCount(), cfg.Render.QueueSize)
	st := store.New(s, workers, logger, store.WithPlaceholder(render.Placeholder))
	s.Attach(st)

	logger.Info("Site loaded",
		slog.String("root", cfg.Site.Root),
		slog.Int("routes", len(s.Routes())),
		slog.Int("workers", cfg.Render.WorkerCount()),
		slog.Any("languages", hl.Languages()))

	return &stack{db: db, highlight: hl, site: s, store: st}, nil
}

func (s *stack) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.store.Close(ctx); err != nil {
		logger.Warn("store close", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("index close", slog.String("error", err.Error()))
	}
}

// Run starts the development server: it watches the content and template
// directories and serves pages over HTTP until a signal or ctx ends it.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("content", cfg.Site.Root),
		slog.String("templates", cfg.Site.Templates),
		slog.String("index_path", cfg.Index.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	stk, err := buildStack(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer stk.close(logger)

	w, err := watcher.New(logger, []string{cfg.Site.Root, cfg.Site.Templates},
		watcher.WithDebouncer(watcher.NewDebouncer(cfg.Render.Debounce, 0)))
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", api.NewRouter(api.Options{
		Pages:       stk.store,
		Catalog:     stk.site,
		Highlighter: stk.highlight,
		Events:      broker,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
	}))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Apply coalesced file changes, then refresh what they made stale so
	// reloading browsers get new pages.
	g.Go(func() error {
		return w.Run(gCtx, func(ev watcher.Event) {
			stk.site.HandleEvent(gCtx, ev)
			if _, err := stk.store.Sweep(gCtx); err != nil && gCtx.Err() == nil {
				logger.Warn("store sweep failed", slog.String("error", err.Error()))
			}
		})
	})

	g.Go(func() error {
		return stk.site.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		// SSE streams only end when the broker closes them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group's context so the watcher and rescan loop
// stop along with the HTTP server.
var errShutdown = errors.New("shutdown")

// Export renders every route once and writes the result under dir.
func Export(ctx context.Context, dir string, opts ...Option) (export.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return export.Report{}, err
	}
	logger := app.logger()

	stk, err := buildStack(app.config, logger, nil)
	if err != nil {
		return export.Report{}, err
	}
	defer stk.close(logger)

	return export.Export(ctx, stk.store, stk.site.Routes(), dir, logger)
}

// ListRoutes writes every route, one per line.
func ListRoutes(_ context.Context, out io.Writer, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	stk, err := buildStack(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer stk.close(logger)

	for _, r := range stk.site.Routes() {
		if _, err := fmt.Fprintln(out, r); err != nil {
			return err
		}
	}
	return nil
}

// ServeMCP serves the MCP tools on stdin/stdout. Content changes are
// picked up through the watcher as in Run.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	stk, err := buildStack(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer stk.close(logger)

	w, err := watcher.New(logger, []string{app.config.Site.Root, app.config.Site.Templates},
		watcher.WithDebouncer(watcher.NewDebouncer(app.config.Render.Debounce, 0)))
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gCtx, func(ev watcher.Event) { stk.site.HandleEvent(gCtx, ev) })
	})
	g.Go(func() error {
		return stk.site.Run(gCtx)
	})
	g.Go(func() error {
		srv := mcpserver.New(stk.store, stk.site, app.version)
		// ServeStdio returns when stdin closes or on SIGINT/SIGTERM.
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}
