// Package storage is the durable profile store: a SQLite file with a small
// key/value table, standing in for the browser's local storage.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"storefront/internal/config"
	"storefront/internal/storage/migrations"

	_ "modernc.org/sqlite"
)

// DB wraps the profile database connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the profile database at path and applies
// pending migrations.
func Open(path string) (*DB, error) {
	expandedPath, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", expandedPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{DB: db, path: expandedPath}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// SchemaVersion reports the applied schema version and any scripts that
// have not been applied yet.
func (db *DB) SchemaVersion() (int, []int, error) {
	version, err := migrations.Version(db.DB)
	if err != nil {
		return 0, nil, fmt.Errorf("schema version: %w", err)
	}
	pending, err := migrations.Pending(db.DB)
	if err != nil {
		return 0, nil, fmt.Errorf("pending migrations: %w", err)
	}
	return version, pending, nil
}
