// Package database provides SQLite storage for the content index.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bryan-buckman/curio/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the SQLite connection.
type DB struct {
	*sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
// Writers take the database lock at BEGIN (_txlock=immediate), which is what
// serializes revision numbering on this backend.
func New(path string, opts Options) (*DB, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Every connection to ":memory:" would otherwise see its own database.
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db := &DB{sqlStore: newSQLStore(conn, sqliteDialect{}, opts)}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db.log.Info("Database initialized", "path", path)
	return db, nil
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")
	params.Set("_time_format", "sqlite")
	if path == ":memory:" {
		params.Set("cache", "shared")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + params.Encode()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		item_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		channel_name TEXT NOT NULL DEFAULT '',
		canonical_url TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER,
		language TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		complexity TEXT NOT NULL DEFAULT '',
		has_audio INTEGER NOT NULL DEFAULT 0,
		categorization TEXT,
		topics TEXT,
		indexed_at DATETIME NOT NULL,
		published_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS item_categories (
		item_id TEXT NOT NULL REFERENCES items(item_id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		subcategory TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (item_id, category, subcategory)
	);
	CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT NOT NULL REFERENCES items(item_id) ON DELETE CASCADE,
		variant TEXT NOT NULL,
		revision INTEGER NOT NULL CHECK (revision > 0),
		html TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		raw_payload TEXT,
		content_hash TEXT NOT NULL,
		is_latest INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(item_id, variant, revision)
	);
	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		last_fetched DATETIME,
		last_error TEXT NOT NULL DEFAULT ''
	);

	-- At most one latest revision per (item, variant).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_summaries_latest ON summaries(item_id, variant) WHERE is_latest = 1;
	CREATE INDEX IF NOT EXISTS idx_items_indexed_at ON items(indexed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_items_channel ON items(channel_name);
	CREATE INDEX IF NOT EXISTS idx_items_language ON items(language);
	CREATE INDEX IF NOT EXISTS idx_item_categories_category ON item_categories(category, subcategory);
	CREATE INDEX IF NOT EXISTS idx_item_categories_subcategory ON item_categories(subcategory);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "SQLite" }

func (sqliteDialect) highConcurrency() bool { return false }

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) forUpdate() string { return "" }

// lockRevisionKey is a no-op: the IMMEDIATE transaction already holds the
// database write lock.
func (sqliteDialect) lockRevisionKey(context.Context, *sql.Tx, string, model.Variant) error {
	return nil
}

func (sqliteDialect) isRetryable(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
