package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the session's SQLite key-value cache.
type DB struct {
	*sql.DB
	path string
}

// dsn enables WAL so the daemon's readers never wait on a writer, and starts
// write transactions immediately so concurrent writers queue on the busy
// timeout instead of failing mid-transaction.
func dsn(path string) string {
	q := url.Values{}
	q.Set("mode", "rwc")
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens or creates the database file at path. The parent directory
// must exist.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the database file.
func (db *DB) Path() string { return db.path }
