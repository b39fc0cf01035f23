// Package render turns content documents into HTML: front-matter, optional
// body template expansion, markdown, code highlighting and a layout from a
// TemplateSet. Rendering does no I/O and is deterministic for identical
// inputs.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"sort"
	texttemplate "text/template"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/highlight"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/parser"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

const htmlContentType = "text/html; charset=utf-8"

// Site is the global data exposed to every template as .Site.
type Site struct {
	Title       string
	BaseURL     string
	Development bool
	Params      map[string]any
}

// Page is the per-document data exposed as .Page.
type Page struct {
	Route       string
	Path        string
	Title       string
	Description string
	Tags        []string
	Published   time.Time
	Draft       bool
	Meta        map[string]any
}

// List is the data for collection pages, exposed as .List.
type List struct {
	Pages      []Page
	PageNum    int
	TotalPages int
	PrevURL    string
	NextURL    string
}

// Data is the root value a layout is executed with.
type Data struct {
	Page    Page
	Site    Site
	Content template.HTML
	List    *List
}

// Input is one source document to render.
type Input struct {
	Route   string
	Path    string
	Source  []byte
	ModTime time.Time
}

// Document is the parsed form of an Input.
type Document struct {
	Source models.SourceDocument
	Page   Page
	Layout string
	Expand bool
}

// Options configures a Renderer.
type Options struct {
	Site          Site
	DefaultLayout string
	Highlighter   *highlight.Registry
	Schema        *parser.Schema
}

// Renderer is safe for concurrent use.
type Renderer struct {
	md            goldmark.Markdown
	site          Site
	defaultLayout string
	schema        *parser.Schema
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	layout := opts.DefaultLayout
	if layout == "" {
		layout = "page"
	}
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(gparser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(util.Prioritized(&codeBlockRenderer{hl: opts.Highlighter}, 200)),
		),
	)
	return &Renderer{md: md, site: opts.Site, defaultLayout: layout, schema: opts.Schema}
}

// Site returns the site data the renderer was built with.
func (r *Renderer) Site() Site { return r.site }

// Parse splits and validates front-matter. Malformed YAML and schema
// violations wrap apperr.ErrParse.
func (r *Renderer) Parse(in Input) (*Document, error) {
	res, err := parser.Parse(in.Source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Path, err)
	}
	if err := r.schema.Validate(res.Frontmatter); err != nil {
		return nil, fmt.Errorf("%s: %w", in.Path, err)
	}

	fm := res.Frontmatter
	published, _ := parser.Time(fm, "published")
	layout := parser.String(fm, "layout")
	if layout == "" {
		layout = r.defaultLayout
	}
	return &Document{
		Source: models.SourceDocument{
			Path:        in.Path,
			Raw:         in.Source,
			Frontmatter: fm,
			Body:        res.Body,
			ModTime:     in.ModTime,
		},
		Page: Page{
			Route:       in.Route,
			Path:        in.Path,
			Title:       res.Title,
			Description: parser.String(fm, "description"),
			Tags:        res.Tags,
			Published:   published,
			Draft:       parser.Bool(fm, "draft"),
			Meta:        fm,
		},
		Layout: layout,
		Expand: parser.Bool(fm, "expand"),
	}, nil
}

// Render runs the full pipeline for in against set. The returned artifact
// has a zero RenderedAt; callers stamp it.
func (r *Renderer) Render(in Input, set *TemplateSet) (*models.Artifact, *Document, error) {
	doc, err := r.Parse(in)
	if err != nil {
		return nil, nil, err
	}
	art, err := r.RenderDocument(doc, set)
	if err != nil {
		return nil, doc, err
	}
	return art, doc, nil
}

// RenderDocument renders an already parsed document.
func (r *Renderer) RenderDocument(doc *Document, set *TemplateSet) (*models.Artifact, error) {
	hash := checksum.Content(doc.Source.Raw, set.Hash())
	doc.Source.Hash = hash

	data := Data{Page: doc.Page, Site: r.site}
	body := []byte(doc.Source.Body)
	if doc.Expand {
		expanded, err := expandBody(doc.Source.Path, doc.Source.Body, data)
		if err != nil {
			return nil, err
		}
		body = expanded
	}

	var content bytes.Buffer
	if err := r.md.Convert(body, &content); err != nil {
		return nil, fmt.Errorf("%w: %s: markdown: %v", apperr.ErrRenderFailed, doc.Source.Path, err)
	}
	data.Content = template.HTML(content.String())

	var out bytes.Buffer
	if err := set.execute(&out, doc.Layout, data); err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Source.Path, err)
	}
	return &models.Artifact{
		Route:       doc.Page.Route,
		SourcePath:  doc.Source.Path,
		Body:        out.Bytes(),
		ContentType: htmlContentType,
		ContentHash: hash,
	}, nil
}

func expandBody(name, body string, data Data) ([]byte, error) {
	t, err := texttemplate.New(name).
		Funcs(texttemplate.FuncMap(Funcs())).
		Option("missingkey=error").
		Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrTemplate, name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrTemplate, name, err)
	}
	return buf.Bytes(), nil
}

// RenderList renders one page of a collection through layout.
func (r *Renderer) RenderList(route, title, layout string, list List, set *TemplateSet) (*models.Artifact, error) {
	if layout == "" {
		layout = "list"
	}
	data := Data{
		Page: Page{Route: route, Title: title, Meta: map[string]any{}},
		Site: r.site,
		List: &list,
	}
	var out bytes.Buffer
	if err := set.execute(&out, layout, data); err != nil {
		return nil, fmt.Errorf("%s: %w", route, err)
	}

	deps := make([]string, 0, len(list.Pages)+2)
	deps = append(deps, set.Hash(), layout)
	for _, p := range list.Pages {
		deps = append(deps, p.Route, p.Title, p.Published.UTC().Format(time.RFC3339))
	}
	return &models.Artifact{
		Route:       route,
		Body:        out.Bytes(),
		ContentType: htmlContentType,
		ContentHash: checksum.Content([]byte(route), deps...),
	}, nil
}

// Placeholder is served for a route whose render failed and that has no
// earlier artifact to fall back on.
func Placeholder(route string, err error) []byte {
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head><meta charset=\"utf-8\"><title>Render failed</title></head>\n<body>\n")
	b.WriteString("<h1>Render failed</h1>\n<p>Route <code>")
	b.WriteString(html.EscapeString(route))
	b.WriteString("</code> could not be rendered.</p>\n<pre>")
	if err != nil {
		b.WriteString(html.EscapeString(err.Error()))
	}
	b.WriteString("</pre>\n</body>\n</html>\n")
	return b.Bytes()
}

// SortByPublished orders pages newest first, breaking ties by route.
func SortByPublished(pages []Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		if !pages[i].Published.Equal(pages[j].Published) {
			return pages[i].Published.After(pages[j].Published)
		}
		return pages[i].Route < pages[j].Route
	})
}
