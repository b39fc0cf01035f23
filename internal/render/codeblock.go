package render

import (
	"bytes"
	"html"

	"github.com/starford/quill/internal/highlight"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// codeBlockRenderer replaces goldmark's code block output with highlighted
// listings.
type codeBlockRenderer struct {
	hl *highlight.Registry
}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFenced)
	reg.Register(ast.KindCodeBlock, r.renderIndented)
}

func (r *codeBlockRenderer) renderFenced(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	var lang string
	if l := n.Language(source); l != nil {
		lang = string(l)
	}
	r.writeListing(w, lang, codeText(n, source))
	return ast.WalkSkipChildren, nil
}

func (r *codeBlockRenderer) renderIndented(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	r.writeListing(w, "", codeText(node, source))
	return ast.WalkSkipChildren, nil
}

func (r *codeBlockRenderer) writeListing(w util.BufWriter, lang, code string) {
	if lang == "" || r.hl == nil || !r.hl.Supported(lang) {
		_, _ = w.WriteString(`<pre class="code-listing"><code>`)
		_, _ = w.WriteString(html.EscapeString(code))
		_, _ = w.WriteString("</code></pre>\n")
		return
	}
	_, _ = w.WriteString(`<pre class="chroma code-listing"><code class="language-`)
	_, _ = w.WriteString(html.EscapeString(lang))
	_, _ = w.WriteString(`">`)
	_, _ = w.WriteString(r.hl.Highlight(lang, code))
	_, _ = w.WriteString("</code></pre>\n")
}

func codeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}
