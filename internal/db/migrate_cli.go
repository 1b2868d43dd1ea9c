package db

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand dispatches the 'migrate' subcommand actions.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}
	action := args[0]

	// Embedded migrations in production, source-tree files in dev mode.
	migFS, err := getMigrationsFS()
	if err != nil {
		log.Fatalf("Failed to get migrations filesystem: %v", err)
	}

	// Open without schema initialization; the migrations own the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		handleMigrateUp(database, migFS)

	case "down":
		handleMigrateDown(database, migFS)

	case "status":
		handleMigrateStatus(database, migFS)

	case "version":
		if len(args) < 2 {
			log.Fatal("Usage: kinetics-report migrate version <version_number>")
		}
		handleMigrateVersion(database, migFS, args[1])

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: kinetics-report migrate force <version_number>")
		}
		handleMigrateForce(database, migFS, args[1])

	case "baseline":
		if len(args) < 2 {
			log.Fatal("Usage: kinetics-report migrate baseline <version_number>")
		}
		handleMigrateBaseline(database, args[1])

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

func parseVersionArg(versionStr string) uint {
	v, err := strconv.ParseUint(versionStr, 10, 32)
	if err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}
	return uint(v)
}

func handleMigrateUp(database *DB, migFS fs.FS) {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(migFS); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✓ All migrations applied successfully")

	version, dirty, _ := database.MigrateVersion(migFS)
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

func handleMigrateDown(database *DB, migFS fs.FS) {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(migFS); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("✓ Migration rolled back successfully")

	version, dirty, _ := database.MigrateVersion(migFS)
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

func handleMigrateStatus(database *DB, migFS fs.FS) {
	st, err := database.SchemaStatus(migFS)
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Current version: %d\n", st.Version)
	fmt.Printf("Latest version:  %d\n", st.Latest)
	fmt.Printf("Pending:         %d\n", st.Pending)
	fmt.Printf("Dirty: %v\n", st.Dirty)
	fmt.Printf("Schema migrations table exists: %v\n", st.Initialized)

	if st.Dirty {
		fmt.Println("\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution. You may need to:")
		fmt.Println("  1. Inspect the database manually")
		fmt.Println("  2. Fix any issues")
		fmt.Println("  3. Run: kinetics-report migrate force <version>")
	}
}

func handleMigrateVersion(database *DB, migFS fs.FS, versionStr string) {
	targetVersion := parseVersionArg(versionStr)

	log.Printf("Migrating to version %d...", targetVersion)
	if err := database.MigrateTo(migFS, targetVersion); err != nil {
		log.Fatalf("Migration to version %d failed: %v", targetVersion, err)
	}
	log.Printf("✓ Migrated to version %d successfully", targetVersion)
}

func handleMigrateForce(database *DB, migFS fs.FS, versionStr string) {
	forceVersion := parseVersionArg(versionStr)

	fmt.Printf("⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Println("This should only be used to recover from a dirty migration state.")
	fmt.Print("Continue? [y/N]: ")

	var response string
	fmt.Scanln(&response)
	if response != "y" && response != "Y" {
		log.Println("Aborted")
		os.Exit(0)
	}

	if err := database.MigrateForce(migFS, int(forceVersion)); err != nil {
		log.Fatalf("Force migration failed: %v", err)
	}
	log.Printf("✓ Migration version forced to %d", forceVersion)
}

func handleMigrateBaseline(database *DB, versionStr string) {
	baselineVersion := parseVersionArg(versionStr)

	log.Printf("Baselining database at version %d...", baselineVersion)
	if err := database.BaselineAtVersion(baselineVersion); err != nil {
		log.Fatalf("Baseline failed: %v", err)
	}
	log.Printf("✓ Database baselined at version %d", baselineVersion)
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp() {
	fmt.Println(`Database Migration Commands

Usage: kinetics-report migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  baseline <N>    Set migration version to N without running migrations
  help            Show this help message

Examples:
  kinetics-report migrate up
  kinetics-report migrate status
  kinetics-report migrate version 2
  kinetics-report migrate baseline 2

Pre-migration Database Upgrade (typical workflow):
  1. kinetics-report migrate baseline <N>  # Record the version already in place
  2. kinetics-report migrate up            # Apply remaining migrations

Options:
  -db <path>    Path to database file (default: kinetics_data.db)

For more information, see:
  - internal/db/migrations/README.md`)
}
