// Package pathmap persists confirmed raw-to-resolved path pairs between
// runs. Reprocessing a months-old condition table depends on this map: the
// raw paths it records often point at machines and drives that no longer
// exist, and re-searching the roots every run is both slow and a fresh
// chance for ambiguity.
package pathmap

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - pre-migration
// 1 - initial path_map table
const currentSchemaVersion = 1

// Store is a SQLite-backed path map. It satisfies resolve.PathMap.
type Store struct {
	db *sql.DB
}

// Open creates or opens the path map database at path. Idempotent.
//
// SQLite is configured with WAL mode, NORMAL synchronous, a 5-second busy
// timeout, and foreign key enforcement. The pool is capped at one connection
// because SQLite allows a single writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open path map: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect path map: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get looks up a raw path. The second return is false when the path is not
// in the map.
func (s *Store) Get(raw string) (string, bool, error) {
	var resolved string
	err := s.db.QueryRow(
		`SELECT resolved_path FROM path_map WHERE raw_path = ?`, raw,
	).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", raw, err)
	}
	return resolved, true, nil
}

// Put records a raw-to-resolved pair, replacing any previous entry for the
// same raw path.
func (s *Store) Put(raw, resolved string) error {
	_, err := s.db.Exec(`
		INSERT INTO path_map (raw_path, resolved_path) VALUES (?, ?)
		ON CONFLICT(raw_path) DO UPDATE SET
			resolved_path = excluded.resolved_path,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`, raw, resolved)
	if err != nil {
		return fmt.Errorf("put %q: %w", raw, err)
	}
	return nil
}

// PutAll records a batch of pairs in one transaction.
func (s *Store) PutAll(pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO path_map (raw_path, resolved_path) VALUES (?, ?)
		ON CONFLICT(raw_path) DO UPDATE SET
			resolved_path = excluded.resolved_path,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for raw, resolved := range pairs {
		if _, err := stmt.Exec(raw, resolved); err != nil {
			tx.Rollback()
			return fmt.Errorf("put %q: %w", raw, err)
		}
	}
	return tx.Commit()
}

// All returns every pair in the map, keyed by raw path.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT raw_path, resolved_path FROM path_map ORDER BY raw_path`)
	if err != nil {
		return nil, fmt.Errorf("list path map: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var raw, resolved string
		if err := rows.Scan(&raw, &resolved); err != nil {
			return nil, fmt.Errorf("scan path map: %w", err)
		}
		out[raw] = resolved
	}
	return out, rows.Err()
}

// Len returns the number of stored pairs.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM path_map`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count path map: %w", err)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Version 1 is the initial table, created by schema.sql itself; future
	// migrations slot in here sequentially.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
