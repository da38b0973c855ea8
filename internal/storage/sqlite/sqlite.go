// Package sqlite stores records and run progress in an embedded SQLite file.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jmoiron/sqlx"
	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Open connects to the database at path, creating parent directories.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" on a single shared connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA synchronous=FULL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	return db, nil
}

// EnsureSchema creates the record and checkpoint tables if missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB, table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id  INTEGER NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	source_page  INTEGER NOT NULL,
	published_at TEXT NOT NULL,
	view_count   INTEGER NOT NULL DEFAULT 0
)`, table),
		`CREATE TABLE IF NOT EXISTS harvest_checkpoints (
	key        TEXT PRIMARY KEY,
	page       INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
