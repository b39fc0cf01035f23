package site

import (
	"path"
	"strings"
)

// PageExts are the extensions rendered as markdown pages.
var PageExts = []string{"md", "markdown"}

// contentTypes lists the static asset extensions served byte-for-byte.
var contentTypes = map[string]string{
	"css":   "text/css; charset=utf-8",
	"html":  "text/html; charset=utf-8",
	"js":    "text/javascript; charset=utf-8",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"png":   "image/png",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"webp":  "image/webp",
	"woff2": "font/woff2",
	"ico":   "image/x-icon",
	"txt":   "text/plain; charset=utf-8",
}

// Exts returns every extension the site serves, pages first.
func Exts() []string {
	out := append([]string(nil), PageExts...)
	for ext := range contentTypes {
		out = append(out, ext)
	}
	return out
}

func ext(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// IsPage reports whether rel is a markdown page.
func IsPage(rel string) bool {
	e := ext(rel)
	for _, pe := range PageExts {
		if e == pe {
			return true
		}
	}
	return false
}

// ContentType returns the content type for a static asset path.
func ContentType(rel string) (string, bool) {
	ct, ok := contentTypes[ext(rel)]
	return ct, ok
}

// RouteFor maps a slash-separated path relative to the content root to its
// route:
//
//	a/b.md       -> /a/b
//	a/index.md   -> /a
//	index.md     -> /
//	css/site.css -> /css/site.css
func RouteFor(rel string) string {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if !IsPage(rel) {
		return "/" + rel
	}
	stem := strings.TrimSuffix(rel, path.Ext(rel))
	if stem == "index" {
		return "/"
	}
	stem = strings.TrimSuffix(stem, "/index")
	return "/" + stem
}

// NormalizeRoute cleans a request path into route form: leading slash, no
// trailing slash except for the root.
func NormalizeRoute(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// dirOf returns the directory of rel, "" for the root.
func dirOf(rel string) string {
	d := path.Dir(rel)
	if d == "." {
		return ""
	}
	return d
}
