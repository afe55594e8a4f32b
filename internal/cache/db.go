// Package cache is the sqlite-backed offline cache. It is advisory: the
// engine warms the in-memory store from it on open and the reconciler
// writes confirmed state through, but losing it never breaks a conversation —
// the network history fetch is authoritative.
package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection for the profile-owned cache.db.
type DB struct {
	*sql.DB
}

// Open creates a sqlite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	return &DB{db}, nil
}
