package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// TimeFormat is the layout of every created_at column. It sorts lexically.
const TimeFormat = "2006-01-02 15:04:05"

// Timestamp formats t for the created_at columns.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Single connection avoids SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// Check verifies the connection with a short deadline.
func (d *DB) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	if err := d.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// PruneCache removes cache entries older than the specified duration.
func (d *DB) PruneCache(olderThan time.Duration) (int64, error) {
	return d.pruneTable("cache", olderThan)
}

// PruneQueries removes query history older than the specified duration.
func (d *DB) PruneQueries(olderThan time.Duration) (int64, error) {
	return d.pruneTable("queries", olderThan)
}

func (d *DB) pruneTable(table string, olderThan time.Duration) (int64, error) {
	deadline := Timestamp(time.Now().Add(-olderThan))
	res, err := d.Exec("DELETE FROM "+table+" WHERE created_at < ?", deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS persistent_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB,
			created_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS queries (
			id TEXT PRIMARY KEY,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			name TEXT,
			found INTEGER NOT NULL DEFAULT 0,
			cell TEXT,
			dataset TEXT,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries (created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_queries_cell ON queries (cell);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}
