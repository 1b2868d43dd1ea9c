// Package db manages the SQLite database that stores analysis runs and
// their results. Schema changes are applied through golang-migrate
// migrations embedded in the binary at build time.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DevMode controls whether migrations are read from the source tree
// instead of the embedded copy. Set by the serve command's -dev flag so
// schema edits don't require a rebuild.
var DevMode bool

//go:embed migrations
var migrationsFS embed.FS

// getMigrationsFS returns the migrations filesystem rooted at the
// directory containing the *.sql files.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		devPath := "internal/db/migrations"
		if _, err := os.Stat(devPath); err != nil {
			return nil, fmt.Errorf("dev mode: migrations directory not found at %s: %w", devPath, err)
		}
		return os.DirFS(devPath), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}

type DB struct {
	*sql.DB
}

// OpenDB opens the database and applies connection PRAGMAs without
// touching the schema. The migrate CLI uses this so migrations stay the
// only code path that modifies tables.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB}, nil
}

// NewDB opens the database and brings the schema up to the latest
// migration version.
func NewDB(path string) (*DB, error) {
	return NewDBWithMigrationCheck(path, false)
}

// NewDBWithMigrationCheck opens the database. A fresh database is always
// initialized to the latest schema. For existing databases, checkMigrations
// selects the behavior: true refuses to open an out-of-date database (the
// operator must run 'kinetics-report migrate up' explicitly), false applies
// pending migrations automatically.
func NewDBWithMigrationCheck(path string, checkMigrations bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	if checkMigrations {
		hasTable, err := db.hasMigrationsTable()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to inspect schema_migrations: %w", err)
		}
		if hasTable {
			if _, err := db.CheckAndPromptMigrations(migFS); err != nil {
				db.Close()
				return nil, err
			}
			return db, nil
		}
		// Fresh database: fall through and initialize it.
	}

	if err := db.MigrateUp(migFS); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// applyPragmas sets the connection PRAGMAs used on every database handle.
// WAL allows the HTTP handlers to read while a sweep writes results.
func applyPragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}
	return nil
}

// hasMigrationsTable reports whether schema_migrations exists, which
// distinguishes a fresh database from one created by a prior install.
func (db *DB) hasMigrationsTable() (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&exists)
	return exists, err
}

const (
	busyMaxAttempts  = 5
	busyInitialDelay = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is a transient SQLITE_BUSY condition.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy runs fn, retrying with exponential backoff while the
// database reports SQLITE_BUSY. Non-busy errors are returned immediately.
func retryOnBusy(fn func() error) error {
	delay := busyInitialDelay
	var err error
	for attempt := 0; attempt < busyMaxAttempts; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyMaxAttempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
