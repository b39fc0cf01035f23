// Package testutil provides shared test helpers for building a content
// tree and a fully wired site on top of it.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/quill/internal/highlight"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/pool"
	"github.com/starford/quill/internal/render"
	"github.com/starford/quill/internal/site"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "quill-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// WriteFiles writes files (slash-separated relative path -> content) under root.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestContent creates a temporary content directory holding files.
func TestContent(t *testing.T, files map[string]string) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	WriteFiles(t, dir, files)
	fs, err := storage.NewFS(dir, site.Exts()...)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Env is a wired site and store over a temporary content tree.
type Env struct {
	Content   string
	Templates string
	Site      *site.Site
	Store     *store.Store
	Highlight *highlight.Registry
}

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestSite builds an Env with the given content files. Templates default
// to the built-in set plus a minimal page layout.
func TestSite(t *testing.T, files map[string]string, collections ...site.Collection) *Env {
	t.Helper()
	content, fs := TestContent(t, files)
	e := &Env{Content: content, Templates: t.TempDir()}
	WriteFiles(t, e.Templates, map[string]string{
		"page.html": `<h1>{{.Page.Title}}</h1>{{.Content}}`,
	})

	e.Highlight = highlight.NewRegistry(nil, "github", "go")
	r := render.New(render.Options{
		Site:        render.Site{Title: "Test"},
		Highlighter: e.Highlight,
	})
	logger := Logger()
	s, err := site.New(site.Config{TemplatesDir: e.Templates, Collections: collections}, fs, r, TestDB(t), logger)
	if err != nil {
		t.Fatalf("site.New: %v", err)
	}
	e.Site = s
	e.Store = store.New(s, pool.New(logger, 2, 16), logger, store.WithPlaceholder(render.Placeholder))
	s.Attach(e.Store)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Store.Close(ctx)
	})
	return e
}
