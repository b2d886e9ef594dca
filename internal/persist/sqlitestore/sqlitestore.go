// Package sqlitestore is the SQLite-backed persist.Store adapter, grounded
// on goop2's internal/storage/db.go: WAL mode, busy-timeout, and a
// `_meta(key TEXT PRIMARY KEY, value TEXT)` table — here holding exactly
// one row, the APP_STATE blob, rather than the teacher's general-purpose
// table registry (spec §6.3 needs only a single opaque key).
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/trustcircle/groupcore/internal/persist"
)

const appStateKey = "APP_STATE"

// Store is a SQLite-backed persist.Store.
type Store struct {
	db   *sql.DB
	path string
}

var _ persist.Store = (*Store)(nil)

// Open opens or creates the SQLite database at <dataDir>/data.db (spec
// §6.3), matching the teacher's pragma set.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlitestore: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "data.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create meta table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path, for diagnostics.
func (s *Store) Path() string { return s.path }

// Load returns the stored APP_STATE blob, or (nil, nil) if absent (spec
// §7 "malformed persisted blob" — the caller, not this adapter, treats
// an unparseable blob as empty state).
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = ?`, appStateKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load: %w", err)
	}
	return []byte(value), nil
}

// Save replaces the stored APP_STATE blob in full (spec §6.3 "writes are
// full-blob replacements").
func (s *Store) Save(ctx context.Context, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, appStateKey, string(blob))
	if err != nil {
		return fmt.Errorf("sqlitestore: save: %w", err)
	}
	return nil
}
