package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Schema changes run through golang-migrate against a migrations filesystem,
// normally the embedded one from Migrations(). Instances built by newMigrate
// are never closed: closing one would close the shared database connection
// underneath it, so they are simply dropped for the GC.

// MigrateUp applies every pending migration. A database already at the
// newest version returns nil.
func (db *DB) MigrateUp(migrationsFS fs.FS) error {
	m, err := db.newMigrate(migrationsFS)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration. Rolling back an empty
// database is an error.
func (db *DB) MigrateDown(migrationsFS fs.FS) error {
	m, err := db.newMigrate(migrationsFS)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateTo migrates up or down until the database sits at version.
func (db *DB) MigrateTo(migrationsFS fs.FS, version uint) error {
	m, err := db.newMigrate(migrationsFS)
	if err != nil {
		return err
	}
	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// MigrateForce overwrites the recorded version without running anything.
// Recovery tool for a dirty database, nothing else.
func (db *DB) MigrateForce(migrationsFS fs.FS, version int) error {
	m, err := db.newMigrate(migrationsFS)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("force migration to version %d failed: %w", version, err)
	}
	return nil
}

// MigrateVersion reports the version the database currently sits at and
// whether a migration died partway. A database with no applied migrations
// reports version 0.
func (db *DB) MigrateVersion(migrationsFS fs.FS) (version uint, dirty bool, err error) {
	m, err := db.newMigrate(migrationsFS)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate(migrationsFS fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger routes golang-migrate output through the standard logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// MigrationStatus describes where a database stands relative to the
// migrations shipped in the binary.
type MigrationStatus struct {
	Version     uint `json:"current_version"`
	Dirty       bool `json:"dirty"`
	Latest      uint `json:"latest_version"`
	Pending     int  `json:"pending"`
	Initialized bool `json:"schema_migrations_exists"`
}

// SchemaStatus compares the database against the migrations filesystem.
func (db *DB) SchemaStatus(migrationsFS fs.FS) (MigrationStatus, error) {
	var st MigrationStatus

	// Checked before MigrateVersion: building a migrate instance creates
	// the version table as a side effect.
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&st.Initialized)
	if err != nil && err != sql.ErrNoRows {
		return st, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		return st, fmt.Errorf("failed to get migration version: %w", err)
	}
	st.Version = version
	st.Dirty = dirty

	st.Latest, err = LatestMigrationVersion(migrationsFS)
	if err != nil {
		return st, err
	}
	if st.Latest > st.Version {
		st.Pending = int(st.Latest - st.Version)
	}

	return st, nil
}

// LatestMigrationVersion scans the migrations filesystem for the highest
// versioned up migration. Filenames follow 000001_name.up.sql.
func LatestMigrationVersion(migrationsFS fs.FS) (uint, error) {
	entries, err := fs.Glob(migrationsFS, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("no migration files found")
	}

	var latest uint64
	for _, entry := range entries {
		prefix, _, ok := strings.Cut(filepath.Base(entry), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0, fmt.Errorf("could not determine latest migration version")
	}
	return uint(latest), nil
}

// BaselineAtVersion marks an existing database as already carrying the schema
// of the given version, without running any migrations. Only valid on a
// database that has never recorded one.
func (db *DB) BaselineAtVersion(version uint) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing migrations: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("database already has migrations applied, cannot baseline")
	}

	if _, err := db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version); err != nil {
		return fmt.Errorf("failed to insert baseline version: %w", err)
	}
	log.Printf("Database baselined at version %d", version)
	return nil
}

// CheckAndPromptMigrations refuses to run against a database whose schema
// does not match the binary. The first return reports whether the caller
// should exit; the operator applies migrations explicitly.
func (db *DB) CheckAndPromptMigrations(migrationsFS fs.FS) (bool, error) {
	st, err := db.SchemaStatus(migrationsFS)
	if err != nil {
		return false, err
	}

	if st.Dirty {
		return true, fmt.Errorf("database is in a dirty state (version %d). Run 'kinetics-report migrate status' to diagnose", st.Version)
	}
	if st.Version > st.Latest {
		return true, fmt.Errorf("database version (%d) is ahead of latest migration (%d); the binary is older than the database", st.Version, st.Latest)
	}
	if st.Pending == 0 {
		return false, nil
	}

	log.Printf("⚠️  Database schema version mismatch detected!")
	log.Printf("   Current database version: %d", st.Version)
	log.Printf("   Latest available version: %d", st.Latest)
	log.Printf("   Outstanding migrations: %d", st.Pending)
	log.Printf("")
	log.Printf("To apply the outstanding migrations, run:")
	log.Printf("   kinetics-report migrate up")
	log.Printf("")

	return true, fmt.Errorf("database schema is out of date (version %d, need %d). Please run migrations", st.Version, st.Latest)
}
