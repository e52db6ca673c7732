package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStorageUnavailable signals that the durable store could not be opened.
// Callers degrade to a memory-only queue and surface a persistent warning
// instead of dropping messages silently.
var ErrStorageUnavailable = errors.New("durable store unavailable")

// DB wraps a SQLite connection for the app-owned fbdash.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas. Failures wrap ErrStorageUnavailable.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStorageUnavailable, path, err)
	}
	return &DB{db}, nil
}
