package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection holding all persisted chat state.
type DB struct {
	*sql.DB

	// Transient reports whether this is the in-memory fallback database.
	// Data written here is lost on exit; the UI shows a warning.
	Transient bool
}

// Open creates a SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, &StoreError{Op: OpOpen, Err: err}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: OpOpen, Err: err}
	}
	return &DB{DB: db}, nil
}

// OpenMemory creates a transient in-memory database, used as the fallback
// when the on-disk file cannot be opened. Connection count is pinned to
// one: each new sqlite connection would otherwise get its own empty
// memory database.
func OpenMemory() (*DB, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, &StoreError{Op: OpOpen, Err: err}
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: OpOpen, Err: err}
	}
	return &DB{DB: db, Transient: true}, nil
}
