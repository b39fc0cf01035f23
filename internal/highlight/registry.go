// Package highlight turns fenced code into HTML spans using a registry of
// grammars keyed by language tag. Lookup failures and tokenizer errors fall
// back to escaped plain text.
package highlight

import (
	"fmt"
	"html"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Registry maps language tags to grammars. It is populated before the first
// render and only read afterwards, so lookups take no lock.
type Registry struct {
	grammars map[string]chroma.Lexer
	style    string
}

// NewRegistry builds a registry for the given language tags. Tags with no
// matching grammar are logged and skipped.
func NewRegistry(logger *slog.Logger, style string, tags ...string) *Registry {
	r := &Registry{grammars: make(map[string]chroma.Lexer, len(tags)), style: style}
	for _, tag := range tags {
		lexer := lexers.Get(tag)
		if lexer == nil {
			if logger != nil {
				logger.Warn("highlight: no grammar for language", slog.String("language", tag))
			}
			continue
		}
		r.Register(tag, lexer)
	}
	return r
}

// Register adds or replaces the grammar for tag. Only call during setup.
func (r *Registry) Register(tag string, lexer chroma.Lexer) {
	r.grammars[normalize(tag)] = chroma.Coalesce(lexer)
}

// Supported reports whether tag has a grammar.
func (r *Registry) Supported(tag string) bool {
	_, ok := r.grammars[normalize(tag)]
	return ok
}

// Languages returns the registered tags in sorted order.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.grammars))
	for tag := range r.grammars {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Highlight returns code as HTML. Tokens of a known language are wrapped in
// <span class="..."> using chroma's short class names; anything else comes
// back HTML-escaped with no spans.
func (r *Registry) Highlight(tag, code string) string {
	lexer, ok := r.grammars[normalize(tag)]
	if !ok {
		return html.EscapeString(code)
	}
	out, err := tokenize(lexer, code)
	if err != nil {
		return html.EscapeString(code)
	}
	return out
}

func tokenize(lexer chroma.Lexer, code string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("highlight: grammar panicked: %v", p)
		}
	}()

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(code) * 2)
	for _, tok := range it.Tokens() {
		text := html.EscapeString(tok.Value)
		cls := className(tok.Type)
		if cls == "" {
			b.WriteString(text)
			continue
		}
		b.WriteString(`<span class="`)
		b.WriteString(cls)
		b.WriteString(`">`)
		b.WriteString(text)
		b.WriteString(`</span>`)
	}
	return b.String(), nil
}

func className(t chroma.TokenType) string {
	for t != 0 {
		if cls, ok := chroma.StandardTypes[t]; ok {
			return cls
		}
		t = t.Parent()
	}
	return ""
}

// WriteCSS writes the stylesheet for the configured style. Class names match
// the spans produced by Highlight inside an element with class "chroma".
func (r *Registry) WriteCSS(w io.Writer) error {
	style := styles.Get(r.style)
	return chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(w, style)
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
