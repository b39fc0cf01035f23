package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/quill/internal/apperr"
)

const publishedLayout = "2006-01-02T15:04:05Z"

// PageRow represents a row in the pages table.
type PageRow struct {
	Path        string
	Route       string
	Dir         string
	Title       string
	Description string
	Published   time.Time
	Draft       bool
	Checksum    string
	Tags        []string
	UpdatedAt   time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Route   string `json:"route"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func nullPublished(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(publishedLayout), Valid: true}
}

// UpsertPage inserts or replaces a page and its FTS entry in one transaction.
func (db *DB) UpsertPage(p PageRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tagsJSON, _ := json.Marshal(p.Tags)
	if p.Tags == nil {
		tagsJSON = []byte("[]")
	}

	// a route can move between files (a.md -> a/index.md)
	if _, err := tx.Exec(`DELETE FROM pages WHERE route = ? AND path <> ?`, p.Route, p.Path); err != nil {
		return fmt.Errorf("index: clear route: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO pages (path, route, dir, title, description, published, draft, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			route       = excluded.route,
			dir         = excluded.dir,
			title       = excluded.title,
			description = excluded.description,
			published   = excluded.published,
			draft       = excluded.draft,
			checksum    = excluded.checksum,
			tags        = excluded.tags,
			body        = excluded.body,
			updated_at  = excluded.updated_at
	`, p.Path, p.Route, p.Dir, p.Title, p.Description, nullPublished(p.Published), p.Draft,
		p.Checksum, string(tagsJSON), body, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert page: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, p.Path, p.Title, body, p.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

// DeletePage removes a page and its FTS entry.
func (db *DB) DeletePage(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM pages WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete page: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a page, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM pages WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

const pageColumns = `path, route, dir, title, description, published, draft, checksum, tags, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(s scanner) (PageRow, error) {
	var (
		p         PageRow
		published sql.NullString
		tags      string
	)
	if err := s.Scan(&p.Path, &p.Route, &p.Dir, &p.Title, &p.Description, &published, &p.Draft, &p.Checksum, &tags, &p.UpdatedAt); err != nil {
		return PageRow{}, err
	}
	if published.Valid {
		p.Published, _ = time.Parse(publishedLayout, published.String)
	}
	_ = json.Unmarshal([]byte(tags), &p.Tags)
	return p, nil
}

// GetPage returns the row for path or an error wrapping apperr.ErrNotFound.
func (db *DB) GetPage(path string) (*PageRow, error) {
	row := db.conn.QueryRow(`SELECT `+pageColumns+` FROM pages WHERE path = ?`, path)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: page %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get page: %w", err)
	}
	return &p, nil
}

// collectionFilter matches published pages at or below dir, excluding the
// directory's own index page and drafts.
const collectionFilter = `(dir = ? OR dir LIKE ? ESCAPE '\') AND draft = 0 AND path <> ? AND path <> ?`

func collectionArgs(dir string) []any {
	return []any{dir, escapeLike(dir) + `/%`, dir + "/index.md", dir + "/index.markdown"}
}

// ListCollection returns pages under dir newest first.
func (db *DB) ListCollection(dir string, limit, offset int) ([]PageRow, error) {
	if limit <= 0 {
		limit = 10
	}
	args := append(collectionArgs(dir), limit, offset)
	rows, err := db.conn.Query(`
		SELECT `+pageColumns+`
		FROM pages
		WHERE `+collectionFilter+`
		ORDER BY published DESC, route ASC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list collection: %w", err)
	}
	defer rows.Close()

	var out []PageRow
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountCollection returns the number of pages ListCollection can return.
func (db *DB) CountCollection(dir string) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT count(*) FROM pages WHERE `+collectionFilter, collectionArgs(dir)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("index: count collection: %w", err)
	}
	return n, nil
}

// AllChecksums returns path → checksum for every indexed page.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
