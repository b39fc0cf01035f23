package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/store"
)

type fakeSource struct {
	results map[string]store.Result
	warmed  []string
}

func (f *fakeSource) Warm(_ context.Context, routes []string) error {
	f.warmed = append(f.warmed, routes...)
	return nil
}

func (f *fakeSource) Get(_ context.Context, route string) (store.Result, error) {
	res, ok := f.results[route]
	if !ok {
		return store.Result{Outcome: store.OutcomeNotFound}, nil
	}
	return res, nil
}

func ok(body string) store.Result {
	return okAs(body, "text/html; charset=utf-8")
}

func okAs(body, contentType string) store.Result {
	return store.Result{Outcome: store.OutcomeOK, Freshness: store.Fresh, Artifact: &models.Artifact{Body: []byte(body), ContentType: contentType}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFilePath(t *testing.T) {
	const html = "text/html; charset=utf-8"
	cases := []struct {
		route, contentType, want string
	}{
		{"/", html, "index.html"},
		{"/a", html, "a/index.html"},
		{"/a/b", html, "a/b/index.html"},
		{"/posts/page/2", html, "posts/page/2/index.html"},
		{"/notes/v1.2", html, "notes/v1.2/index.html"},
		{"/404.html", html, "404.html"},
		{"/css/site.css", "text/css; charset=utf-8", "css/site.css"},
		{"/feed", "application/atom+xml", "feed"},
		{"/img/logo.png", "", "img/logo.png"},
		{"/about", "", "about/index.html"},
	}
	for _, tc := range cases {
		assert.Equal(t, filepath.FromSlash(tc.want), FilePath(tc.route, tc.contentType), tc.route)
	}
}

func TestExport_WritesArtifacts(t *testing.T) {
	out := filepath.Join(t.TempDir(), "public")
	src := &fakeSource{results: map[string]store.Result{
		"/":             ok("home"),
		"/a/b":          ok("page b"),
		"/css/site.css": okAs("body{}", "text/css; charset=utf-8"),
		"/notes/v1.2":   ok("release notes"),
	}}
	routes := []string{"/", "/a/b", "/css/site.css", "/notes/v1.2", "/vanished"}

	rep, err := Export(context.Background(), src, routes, out, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, routes, src.warmed)
	assert.ElementsMatch(t, []string{"index.html", "a/b/index.html", "css/site.css", "notes/v1.2/index.html"}, rep.Written)

	for rel, want := range map[string]string{
		"index.html":            "home",
		"a/b/index.html":        "page b",
		"css/site.css":          "body{}",
		"notes/v1.2/index.html": "release notes",
	} {
		data, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestExport_ReportsFailures(t *testing.T) {
	out := t.TempDir()
	parseErr := fmt.Errorf("bad.md: %w", apperr.ErrParse)
	src := &fakeSource{results: map[string]store.Result{
		"/good": ok("fine"),
		"/bad":  {Outcome: store.OutcomeFailed, Freshness: store.Errored, Artifact: &models.Artifact{Body: []byte("placeholder")}, Err: parseErr},
		"/old":  {Outcome: store.OutcomeOK, Freshness: store.Errored, Artifact: &models.Artifact{Body: []byte("last good")}, Err: parseErr},
	}}

	rep, err := Export(context.Background(), src, []string{"/good", "/bad", "/old"}, out, quietLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrRenderFailed))
	assert.Len(t, rep.Failed, 2)

	_, statErr := os.Stat(filepath.Join(out, "bad", "index.html"))
	assert.True(t, os.IsNotExist(statErr))

	data, err := os.ReadFile(filepath.Join(out, "old", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "last good", string(data))
}
