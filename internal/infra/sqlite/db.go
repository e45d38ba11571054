// Package sqlite provides SQLite-based persistent storage for the node
// fabric: node records and the durable tier of the federated search cache.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required
)

// DB wraps a SQLite connection with WAL mode and migrations. NodeStore()
// and CacheStore() return adapters implementing domain.NodeStore and
// domain.CacheBackend respectively, both backed by this connection.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db. Enables
// WAL mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id                TEXT PRIMARY KEY,
			slug              TEXT NOT NULL UNIQUE,
			record            TEXT NOT NULL,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			fingerprint  TEXT PRIMARY KEY,
			query        TEXT NOT NULL,
			node_ids     TEXT NOT NULL,
			payload      BLOB NOT NULL,
			result_count INTEGER NOT NULL,
			duration_ms  INTEGER NOT NULL,
			expires_at   INTEGER NOT NULL,
			hit_count    INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			tags         TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			tx_type     TEXT NOT NULL,
			entry_type  TEXT NOT NULL,
			account     TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			session_id  TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			balance     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_slug ON nodes(slug)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// NodeStore returns a domain.NodeStore backed by this connection.
func (d *DB) NodeStore() *NodeStore {
	return &NodeStore{db: d.db}
}

// CacheStore returns a domain.CacheBackend backed by this connection.
func (d *DB) CacheStore() *CacheStore {
	return &CacheStore{db: d.db}
}

// LedgerStore returns the credit ledger accessor backed by this
// connection (internal/app/credit).
func (d *DB) LedgerStore() *LedgerStore {
	return &LedgerStore{db: d.db}
}
