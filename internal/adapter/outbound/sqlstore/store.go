// Package sqlstore provides a durable, SQLite-backed RoleStore, adapting
// the teacher's WAL-mode/busy-timeout connection setup (storage.Store) to
// the RBAC role model (spec §4.4): role definitions, the parent-role
// graph, and user/API-key role assignments, all surviving a process
// restart without requiring the JSON-file state documents to be rewritten
// on every mutation.
package sqlstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS roles (
	name         TEXT PRIMARY KEY,
	description  TEXT NOT NULL DEFAULT '',
	permissions  TEXT NOT NULL DEFAULT '[]',
	parent_roles TEXT NOT NULL DEFAULT '[]',
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT NOT NULL,
	modified_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS role_assignments (
	subject    TEXT NOT NULL,
	by_api_key INTEGER NOT NULL,
	role       TEXT NOT NULL,
	PRIMARY KEY (subject, by_api_key, role)
);

CREATE TABLE IF NOT EXISTS default_roles (
	role TEXT PRIMARY KEY
);
`

// Store wraps a *sql.DB opened against the modernc.org/sqlite pure-Go
// driver, configured the way the teacher's storage.Store configures its
// own SQLite connection: WAL journaling for concurrent readers, a busy
// timeout instead of an immediate SQLITE_BUSY, and foreign keys on.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at path and
// applies the role-store schema. path may be ":memory:" for tests.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer at a time; WAL lets readers proceed
	// concurrently with it.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
