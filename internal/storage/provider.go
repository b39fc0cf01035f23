// Package storage defines the read-only view of the content tree.
package storage

import "github.com/starford/quill/internal/models"

// Provider is the interface for content file access.
type Provider interface {
	// List returns metadata for every matching file under dir (relative to the root).
	List(dir string) ([]models.SourceMetadata, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Stat returns metadata for a single file without hashing it.
	Stat(path string) (models.SourceMetadata, error)
	// Root returns the absolute root directory.
	Root() string
}
