// Package index keeps a SQLite table of every content page: metadata for
// collection listings plus plain text for search. Full-text search uses FTS5
// when built with the sqlite_fts5 tag and a LIKE scan otherwise.
package index

import (
	"database/sql"
	"fmt"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
	path        TEXT PRIMARY KEY,
	route       TEXT NOT NULL,
	dir         TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	published   TEXT,
	draft       INTEGER NOT NULL DEFAULT 0,
	checksum    TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	body        TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pages_dir ON pages(dir, published);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_route ON pages(route);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// ":memory:" keeps the index for the life of the process.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open(driverName, dsn+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	// an in-memory database exists per connection
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
