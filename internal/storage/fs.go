package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to content directory
	exts map[string]struct{}
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist. When exts is non-empty only files with
// one of those extensions (without the dot) are listed.
func NewFS(root string, exts ...string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs}
	if len(exts) > 0 {
		f.exts = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			f.exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
		}
	}
	return f, nil
}

// Root returns the absolute content root.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes content root: %s", rel)
	}
	return abs, nil
}

// Matches reports whether name has one of the configured extensions.
func (f *FS) Matches(name string) bool {
	if f.exts == nil {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	_, ok := f.exts[ext]
	return ok
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// List walks dir (relative to root) and returns metadata for every matching
// file. Hidden files and directories are skipped. Paths use forward slashes.
func (f *FS) List(dir string) ([]models.SourceMetadata, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []models.SourceMetadata
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if hidden(d.Name()) && p != base {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !f.Matches(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, models.SourceMetadata{
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a content file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Stat returns the modification time of a content file. Checksum is left empty.
func (f *FS) Stat(path string) (models.SourceMetadata, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return models.SourceMetadata{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.SourceMetadata{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return models.SourceMetadata{}, fmt.Errorf("storage: stat %s: %w", path, os.ErrNotExist)
	}
	return models.SourceMetadata{Path: filepath.ToSlash(filepath.Clean(path)), UpdatedAt: info.ModTime()}, nil
}

// Rel converts an absolute path under the root into a slash-separated
// relative path. ok is false for paths outside the root.
func (f *FS) Rel(abs string) (rel string, ok bool) {
	r, err := filepath.Rel(f.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return filepath.ToSlash(r), true
}
