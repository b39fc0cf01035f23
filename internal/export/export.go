// Package export writes every route of the site to a directory as static
// files.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/store"
)

// Source is what the exporter reads from.
type Source interface {
	Warm(ctx context.Context, routes []string) error
	Get(ctx context.Context, route string) (store.Result, error)
}

// Report summarizes an export.
type Report struct {
	Written []string
	Failed  map[string]error
}

// FilePath maps a route to its output file, relative to the output dir.
// HTML artifacts are pages and get their own directory unless the route
// already names an .html file: "/" -> index.html, "/notes/v1.2" ->
// notes/v1.2/index.html. Anything else is written at its route:
// "/css/x.css" -> css/x.css. With no content type the extension decides.
func FilePath(route, contentType string) string {
	clean := strings.TrimPrefix(path.Clean("/"+route), "/")
	if clean == "" {
		return "index.html"
	}
	page := path.Ext(clean) == ""
	if contentType != "" {
		page = isHTML(contentType) && path.Ext(clean) != ".html"
	}
	if !page {
		return filepath.FromSlash(clean)
	}
	return filepath.FromSlash(path.Join(clean, "index.html"))
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/html"
}

// Export renders routes and writes each artifact under outDir. Files are
// replaced atomically. Routes that fail to render are reported and skipped.
func Export(ctx context.Context, src Source, routes []string, outDir string, logger *slog.Logger) (Report, error) {
	rep := Report{Failed: map[string]error{}}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return rep, fmt.Errorf("export: create %s: %w", outDir, err)
	}
	if err := src.Warm(ctx, routes); err != nil {
		return rep, fmt.Errorf("export: warm: %w", err)
	}

	for _, route := range routes {
		res, err := src.Get(ctx, route)
		if err != nil {
			return rep, err
		}
		switch res.Outcome {
		case store.OutcomeNotFound:
			logger.Debug("export: route vanished", slog.String("route", route))
			continue
		case store.OutcomeFailed:
			rep.Failed[route] = res.Err
			logger.Warn("export: render failed", slog.String("route", route), slog.String("error", errString(res.Err)))
			continue
		}
		if res.Err != nil {
			// last good artifact is still written
			rep.Failed[route] = res.Err
		}

		rel := FilePath(route, res.Artifact.ContentType)
		dst := filepath.Join(outDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return rep, fmt.Errorf("export: mkdir: %w", err)
		}
		if err := atomic.WriteFile(dst, bytes.NewReader(res.Artifact.Body)); err != nil {
			return rep, fmt.Errorf("export: write %s: %w", rel, err)
		}
		rep.Written = append(rep.Written, filepath.ToSlash(rel))
	}

	logger.Info("export: done",
		slog.String("dir", outDir),
		slog.Int("written", len(rep.Written)),
		slog.Int("failed", len(rep.Failed)))
	if len(rep.Failed) > 0 {
		return rep, fmt.Errorf("%w: %d routes failed to export", apperr.ErrRenderFailed, len(rep.Failed))
	}
	return rep, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
