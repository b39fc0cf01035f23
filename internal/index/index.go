package index

// PageIndex defines the page index operations used by the site.
type PageIndex interface {
	UpsertPage(p PageRow, body string) error
	DeletePage(path string) error
	GetChecksum(path string) (string, error)
	GetPage(path string) (*PageRow, error)
	ListCollection(dir string, limit, offset int) ([]PageRow, error)
	CountCollection(dir string) (int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies PageIndex at compile time.
var _ PageIndex = (*DB)(nil)
