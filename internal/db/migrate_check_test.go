package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckAndPromptMigrations(t *testing.T) {
	t.Run("up_to_date", func(t *testing.T) {
		db := setupMigrationTestDB(t)
		migFS := setupTestMigrations(t)
		if err := db.MigrateUp(migFS); err != nil {
			t.Fatalf("MigrateUp failed: %v", err)
		}

		shouldExit, err := db.CheckAndPromptMigrations(migFS)
		if err != nil {
			t.Errorf("expected no error when up to date, got: %v", err)
		}
		if shouldExit {
			t.Error("expected shouldExit=false when up to date")
		}
	})

	t.Run("pending_migrations", func(t *testing.T) {
		db := setupMigrationTestDB(t)
		migFS := setupTestMigrations(t)
		if err := db.MigrateTo(migFS, 1); err != nil {
			t.Fatalf("MigrateTo(1) failed: %v", err)
		}

		shouldExit, err := db.CheckAndPromptMigrations(migFS)
		if err == nil {
			t.Fatal("expected error when migrations are pending")
		}
		if !strings.Contains(err.Error(), "out of date") {
			t.Errorf("expected out-of-date error, got: %v", err)
		}
		if !shouldExit {
			t.Error("expected shouldExit=true when migrations are pending")
		}
	})

	t.Run("dirty_database", func(t *testing.T) {
		db := setupMigrationTestDB(t)
		migFS := setupTestMigrations(t)
		if err := db.MigrateUp(migFS); err != nil {
			t.Fatalf("MigrateUp failed: %v", err)
		}
		if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
			t.Fatalf("failed to set dirty state: %v", err)
		}

		shouldExit, err := db.CheckAndPromptMigrations(migFS)
		if err == nil {
			t.Fatal("expected error when database is dirty")
		}
		if !strings.Contains(err.Error(), "dirty") {
			t.Errorf("expected dirty-state error, got: %v", err)
		}
		if !shouldExit {
			t.Error("expected shouldExit=true when database is dirty")
		}
	})
}

func TestLatestMigrationVersion(t *testing.T) {
	migFS := setupTestMigrations(t)
	version, err := LatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected latest version 2, got %d", version)
	}
}

func TestLatestMigrationVersionSkipsGaps(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000001_first.up.sql", "000007_latest.up.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	version, err := LatestMigrationVersion(os.DirFS(dir))
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if version != 7 {
		t.Errorf("expected latest version 7, got %d", version)
	}
}

func TestLatestMigrationVersionEmpty(t *testing.T) {
	if _, err := LatestMigrationVersion(os.DirFS(t.TempDir())); err == nil {
		t.Error("expected error when no migrations exist")
	}
}

// TestNewDBWithMigrationCheckFresh verifies a fresh database comes up at the
// newest embedded schema version regardless of the check flag.
func TestNewDBWithMigrationCheckFresh(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "fresh.db")

	db, err := NewDBWithMigrationCheck(fname, true)
	if err != nil {
		t.Fatalf("NewDBWithMigrationCheck failed: %v", err)
	}
	defer db.Close()

	var version uint
	if err := db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		t.Fatalf("failed to read version: %v", err)
	}

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("failed to get migrations FS: %v", err)
	}
	latest, err := LatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if version != latest {
		t.Errorf("expected version %d (newest embedded migration), got %d", latest, version)
	}
}

// TestNewDBWithMigrationCheckOutOfDate verifies an existing database behind
// the embedded schema refuses to open when checking, and upgrades when not.
func TestNewDBWithMigrationCheckOutOfDate(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "behind.db")

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("failed to get migrations FS: %v", err)
	}

	db, err := OpenDB(fname)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if err := db.MigrateTo(migFS, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	db.Close()

	if _, err := NewDBWithMigrationCheck(fname, true); err == nil {
		t.Fatal("expected error opening out-of-date database with check enabled")
	}

	db2, err := NewDBWithMigrationCheck(fname, false)
	if err != nil {
		t.Fatalf("expected auto-migration with check disabled, got: %v", err)
	}
	defer db2.Close()

	version, _, err := db2.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	latest, err := LatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if version != latest {
		t.Errorf("expected auto-migrated database at version %d, got %d", latest, version)
	}
}
