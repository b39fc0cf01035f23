package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/starford/quill/internal/apperr"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - quill\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "quill" {
		t.Errorf("tags = %v, want [go quill]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	r, err := Parse([]byte("# Just a heading\nSome text.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_EmptyFrontmatter(t *testing.T) {
	r, err := Parse([]byte("---\n---\nbody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter == nil || len(r.Frontmatter) != 0 {
		t.Errorf("frontmatter = %v, want empty map", r.Frontmatter)
	}
	if r.Body != "body\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_InvalidYAMLIsParseError(t *testing.T) {
	_, err := Parse([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if err == nil {
		t.Fatal("expected error for malformed front-matter")
	}
	if !errors.Is(err, apperr.ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestParse_UnclosedDelimiterIsBody(t *testing.T) {
	input := "---\nno closing fence\n"
	r, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Body != input || r.Frontmatter != nil {
		t.Errorf("body = %q fm = %v", r.Body, r.Frontmatter)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{"tags": []any{"alpha"}}
	tags := extractTags("Some text #beta and #alpha again.", fm)
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestExtractTags_IgnoresCodeFences(t *testing.T) {
	body := "text #real\n```c\n#include <stdio.h>\n```\n"
	tags := extractTags(body, nil)
	if len(tags) != 1 || tags[0] != "real" {
		t.Errorf("tags = %v, want [real]", tags)
	}
}

func TestExtractTags_CommaString(t *testing.T) {
	tags := extractTags("", map[string]any{"tags": "a, b"})
	if len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Errorf("tags = %v", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	title := deriveTitle(map[string]any{"title": "FM Title"}, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestTime(t *testing.T) {
	r, err := Parse([]byte("---\npublished: 2023-04-05\nupdated: \"2023-04-06T10:00:00Z\"\n---\n"))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := Time(r.Frontmatter, "published")
	if !ok || !got.Equal(time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("published = %v, %v", got, ok)
	}
	if _, ok := Time(r.Frontmatter, "updated"); !ok {
		t.Error("updated not parsed")
	}
	if _, ok := Time(r.Frontmatter, "missing"); ok {
		t.Error("missing key parsed")
	}
}
