package index

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "quill-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM pages`).Scan(&count); err != nil {
		t.Fatalf("pages table missing: %v", err)
	}
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.UpsertPage(PageRow{Path: "a.md", Route: "/a", UpdatedAt: time.Now()}, "x"); err != nil {
		t.Fatalf("UpsertPage: %v", err)
	}
	cs, _ := db.AllChecksums()
	if len(cs) != 1 {
		t.Errorf("expected 1 page, got %d", len(cs))
	}
}

func TestUpsertAndGetPage(t *testing.T) {
	db := testDB(t)
	row := PageRow{
		Path:        "posts/hello.md",
		Route:       "/posts/hello",
		Dir:         "posts",
		Title:       "Hello World",
		Description: "greeting",
		Published:   day("2024-02-03"),
		Checksum:    "abc123",
		Tags:        []string{"go", "test"},
		UpdatedAt:   time.Now(),
	}
	if err := db.UpsertPage(row, "This is a hello world page."); err != nil {
		t.Fatalf("UpsertPage: %v", err)
	}

	got, err := db.GetPage("posts/hello.md")
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if got.Route != "/posts/hello" || got.Title != "Hello World" || got.Description != "greeting" {
		t.Errorf("unexpected row: %+v", got)
	}
	if !got.Published.Equal(day("2024-02-03")) {
		t.Errorf("published = %v", got.Published)
	}
	if strings.Join(got.Tags, ",") != "go,test" {
		t.Errorf("tags = %v", got.Tags)
	}

	cs, err := db.GetChecksum("posts/hello.md")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestGetPage_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetPage("nope.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestDeletePage(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertPage(PageRow{Path: "del.md", Route: "/del", Checksum: "x", UpdatedAt: time.Now()}, "body")

	if err := db.DeletePage("del.md"); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	cs, _ := db.GetChecksum("del.md")
	if cs != "" {
		t.Errorf("deleted page still has checksum %q", cs)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertPage(PageRow{Path: "up.md", Route: "/up", Title: "Old", Checksum: "1", UpdatedAt: now}, "old body")
	_ = db.UpsertPage(PageRow{Path: "up.md", Route: "/up", Title: "New", Checksum: "2", Tags: []string{"new"}, UpdatedAt: now}, "new body")

	got, err := db.GetPage("up.md")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "New" || got.Checksum != "2" {
		t.Errorf("row not updated: %+v", got)
	}
}

func TestUpsertMovesRoute(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertPage(PageRow{Path: "a.md", Route: "/a", UpdatedAt: now}, "")
	if err := db.UpsertPage(PageRow{Path: "a/index.md", Route: "/a", UpdatedAt: now}, ""); err != nil {
		t.Fatalf("UpsertPage: %v", err)
	}
	cs, _ := db.AllChecksums()
	if _, ok := cs["a.md"]; ok {
		t.Error("old owner of route should be replaced")
	}
	if _, ok := cs["a/index.md"]; !ok {
		t.Error("new owner missing")
	}
}

func TestListCollection(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	rows := []PageRow{
		{Path: "posts/a.md", Route: "/posts/a", Dir: "posts", Title: "A", Published: day("2023-01-01")},
		{Path: "posts/b.md", Route: "/posts/b", Dir: "posts", Title: "B", Published: day("2024-01-01")},
		{Path: "posts/2022/c.md", Route: "/posts/2022/c", Dir: "posts/2022", Title: "C", Published: day("2022-01-01")},
		{Path: "posts/undated.md", Route: "/posts/undated", Dir: "posts", Title: "U"},
		{Path: "posts/draft.md", Route: "/posts/draft", Dir: "posts", Title: "D", Draft: true, Published: day("2025-01-01")},
		{Path: "posts/index.md", Route: "/posts", Dir: "posts", Title: "Index"},
		{Path: "postscript.md", Route: "/postscript", Dir: "", Title: "P"},
		{Path: "posts_old/x.md", Route: "/posts_old/x", Dir: "posts_old", Title: "X"},
	}
	for _, r := range rows {
		r.UpdatedAt = now
		if err := db.UpsertPage(r, ""); err != nil {
			t.Fatalf("UpsertPage %s: %v", r.Path, err)
		}
	}

	n, err := db.CountCollection("posts")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}

	page1, err := db.ListCollection("posts", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	page2, err := db.ListCollection("posts", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, p := range append(page1, page2...) {
		titles = append(titles, p.Title)
	}
	if got := strings.Join(titles, ","); got != "B,A,C,U" {
		t.Errorf("order = %s, want B,A,C,U", got)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertPage(PageRow{Path: "s.md", Route: "/s", Title: "Search Me", Checksum: "1", UpdatedAt: time.Now()}, "uniqueword appears here")
	_ = db.UpsertPage(PageRow{Path: "d.md", Route: "/d", Title: "Draft", Draft: true, UpdatedAt: time.Now()}, "uniqueword in a draft")

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.md" || results[0].Route != "/s" {
		t.Errorf("search results = %+v, want 1 hit for s.md", results)
	}
}

func pageIndexer(path string, data []byte) (PageRow, string, error) {
	if filepath.Ext(path) != ".md" {
		return PageRow{}, "", ErrSkip
	}
	route := "/" + strings.TrimSuffix(path, ".md")
	return PageRow{Route: route, Title: route, UpdatedAt: time.Now()}, string(data), nil
}

func TestSync(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.md", "alpha")
	write("sub/b.md", "beta")
	write("style.css", "body{}")

	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	db := testDB(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	rep, err := Sync(db, fs, pageIndexer, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if fmt.Sprint(len(rep.Indexed), len(rep.Removed)) != "2 0" {
		t.Errorf("first sync report = %+v", rep)
	}

	// unchanged files are skipped
	rep, _ = Sync(db, fs, pageIndexer, logger)
	if len(rep.Indexed) != 0 {
		t.Errorf("second sync re-indexed %v", rep.Indexed)
	}

	write("a.md", "alpha v2")
	if err := os.Remove(filepath.Join(dir, "sub", "b.md")); err != nil {
		t.Fatal(err)
	}
	rep, _ = Sync(db, fs, pageIndexer, logger)
	if strings.Join(rep.Indexed, ",") != "a.md" || strings.Join(rep.Removed, ",") != "sub/b.md" {
		t.Errorf("third sync report = %+v", rep)
	}
}
