package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/checksum"
)

//go:embed defaults
var defaultTemplates embed.FS

// TemplateSet is an immutable, parsed set of layouts and partials. Templates
// are named by their path relative to the template directory without the
// .html extension, e.g. "page" or "partials/head".
type TemplateSet struct {
	root  *template.Template
	names []string
	hash  string
}

// LoadTemplates reads every *.html file under dir on top of the built-in
// defaults. A missing dir yields the defaults alone.
func LoadTemplates(dir string) (*TemplateSet, error) {
	files, err := builtinFiles()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return NewTemplateSet(files)
	}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) != ".html" || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		files[templateName(filepath.ToSlash(rel))] = string(data)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("render: load templates: %w", err)
	}
	return NewTemplateSet(files)
}

func builtinFiles() (map[string]string, error) {
	files := make(map[string]string)
	err := fs.WalkDir(defaultTemplates, "defaults", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := defaultTemplates.ReadFile(p)
		if err != nil {
			return err
		}
		files[templateName(strings.TrimPrefix(p, "defaults/"))] = string(data)
		return nil
	})
	return files, err
}

func templateName(rel string) string {
	return strings.TrimSuffix(rel, path.Ext(rel))
}

// NewTemplateSet parses files, a map of template name to source.
func NewTemplateSet(files map[string]string) (*TemplateSet, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	root := template.New("").Funcs(Funcs()).Option("missingkey=error")
	var hashInput strings.Builder
	for _, name := range names {
		if _, err := root.New(name).Parse(files[name]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperr.ErrTemplate, name, err)
		}
		hashInput.WriteString(name)
		hashInput.WriteByte(0)
		hashInput.WriteString(files[name])
		hashInput.WriteByte(0)
	}
	return &TemplateSet{
		root:  root,
		names: names,
		hash:  checksum.Sum([]byte(hashInput.String())),
	}, nil
}

// Hash identifies the exact contents of the set.
func (s *TemplateSet) Hash() string { return s.hash }

// Names returns the template names in sorted order.
func (s *TemplateSet) Names() []string { return append([]string(nil), s.names...) }

// Has reports whether the set defines name.
func (s *TemplateSet) Has(name string) bool { return s.root.Lookup(name) != nil }

func (s *TemplateSet) execute(w io.Writer, name string, data any) error {
	t := s.root.Lookup(name)
	if t == nil {
		return fmt.Errorf("%w: layout %q not defined", apperr.ErrTemplate, name)
	}
	if err := t.Execute(w, data); err != nil {
		return fmt.Errorf("%w: %s: %v", apperr.ErrTemplate, name, err)
	}
	return nil
}

// Funcs returns the helper functions available to layouts and expanded
// bodies. All of them are deterministic.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
		"comma":   func(n int) string { return humanize.Comma(int64(n)) },
		"bytes":   byteSize,
		"ordinal": humanize.Ordinal,
		"lower":   strings.ToLower,
		"upper":   strings.ToUpper,
		"join":    strings.Join,
		"default": func(def, v any) any {
			if v == nil || v == "" {
				return def
			}
			return v
		},
	}
}

// byteSize formats n as a human-readable size; negative sizes render as 0 B.
func byteSize(n int) string {
	return humanize.Bytes(uint64(max(n, 0)))
}
