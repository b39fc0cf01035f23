package index

import (
	"errors"
	"log/slog"

	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/storage"
)

// ErrSkip tells Sync that a file is not a page.
var ErrSkip = errors.New("index: skip")

// Indexer builds the row and searchable body for one file.
type Indexer func(path string, data []byte) (PageRow, string, error)

// Report lists what a Sync changed.
type Report struct {
	Indexed []string
	Removed []string
}

// Sync walks the content tree and brings the index up to date:
//   - new/changed files are passed to build and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, build Indexer, logger *slog.Logger) (Report, error) {
	var rep Report
	metas, err := store.List("")
	if err != nil {
		return rep, err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return rep, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if cs, ok := checksums[m.Path]; ok && cs == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data, build); err != nil {
			if !errors.Is(err, ErrSkip) {
				logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			}
			continue
		}
		logger.Debug("sync: indexed", slog.String("path", m.Path))
		rep.Indexed = append(rep.Indexed, m.Path)
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeletePage(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("path", p))
		rep.Removed = append(rep.Removed, p)
	}

	return rep, nil
}

// IndexFile builds the row for path and upserts it.
func IndexFile(db *DB, path string, data []byte, build Indexer) error {
	row, body, err := build(path, data)
	if err != nil {
		return err
	}
	row.Path = path
	// must match the checksum storage.Provider.List reports
	row.Checksum = checksum.Sum(data)
	return db.UpsertPage(row, body)
}
