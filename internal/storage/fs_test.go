package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempContent(t *testing.T, exts ...string) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir, exts...)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs, dir
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRead(t *testing.T) {
	s, root := tempContent(t)
	writeFile(t, root, "note.md", "# Hello\nWorld\n")
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "# Hello\nWorld\n" {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestReadMissingIsNotExist(t *testing.T) {
	s, _ := tempContent(t)
	_, err := s.Read("missing.md")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestListFiltersExtensionsAndHidden(t *testing.T) {
	s, root := tempContent(t, "md", "css")
	writeFile(t, root, "a.md", "a")
	writeFile(t, root, "sub/b.md", "b")
	writeFile(t, root, "css/site.css", "body{}")
	writeFile(t, root, "readme.txt", "not listed")
	writeFile(t, root, ".git/config.md", "hidden")
	writeFile(t, root, ".draft.md", "hidden")

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := map[string]bool{}
	for _, it := range items {
		got[it.Path] = true
		if it.Checksum == "" {
			t.Errorf("%s: empty checksum", it.Path)
		}
	}
	for _, want := range []string{"a.md", "sub/b.md", "css/site.css"} {
		if !got[want] {
			t.Errorf("missing %s in %v", want, got)
		}
	}
	if len(items) != 3 {
		t.Errorf("len = %d, want 3", len(items))
	}
}

func TestStat(t *testing.T) {
	s, root := tempContent(t)
	writeFile(t, root, "x.md", "x")
	meta, err := s.Stat("x.md")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if meta.UpdatedAt.IsZero() {
		t.Error("zero mod time")
	}
	if _, err := s.Stat(""); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stat of root dir: err = %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s, _ := tempContent(t)
	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
	}
}

func TestRel(t *testing.T) {
	s, root := tempContent(t)
	rel, ok := s.Rel(filepath.Join(s.Root(), "a", "b.md"))
	if !ok || rel != "a/b.md" {
		t.Errorf("Rel = %q, %v", rel, ok)
	}
	if _, ok := s.Rel(filepath.Dir(root)); ok {
		t.Error("parent of root should not be relative")
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS("/tmp/quill-does-not-exist-" + t.Name()); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "quill-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
