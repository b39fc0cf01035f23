// Package models defines the domain types for quill.
package models

import "time"

// SourceDocument is one content file as read from disk. It is replaced
// wholesale whenever the file changes.
type SourceDocument struct {
	Path        string         `json:"path"`
	Raw         []byte         `json:"-"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Body        string         `json:"-"`
	ModTime     time.Time      `json:"mod_time"`
	Hash        string         `json:"hash"`
}

// Artifact is the rendered output for one route. Artifacts are never
// modified after creation; a new render produces a new Artifact.
type Artifact struct {
	Route       string    `json:"route"`
	SourcePath  string    `json:"source_path,omitempty"`
	Body        []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	ContentHash string    `json:"content_hash"`
	RenderedAt  time.Time `json:"rendered_at"`
}

// WithRenderedAt returns a copy of a stamped with t.
func (a *Artifact) WithRenderedAt(t time.Time) *Artifact {
	cp := *a
	cp.RenderedAt = t
	return &cp
}

// SourceMetadata is a lightweight representation returned by list operations.
type SourceMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
