package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/env"
	"github.com/ManuelReschke/ClaimAgent/migrations"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	path := env.GetEnv("DB_PATH", "data/claimagent.db")
	log.Infof("[Migrate] Using store %s", path)

	m, err := newMigrator(path)
	if err != nil {
		log.Fatalf("[Migrate] Failed to initialise migrations: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warnf("[Migrate] Failed to close migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	msg, err := run(m, os.Args[1:])
	if errors.Is(err, errUsage) {
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("[Migrate] %v", err)
	}
	log.Infof("[Migrate] %s", msg)
}

var errUsage = errors.New("usage")

func newMigrator(path string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+path)
}

// run executes one command and returns a line for the operator
func run(m *migrate.Migrate, args []string) (string, error) {
	switch args[0] {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			return "No changes: store is up to date", nil
		}
		if err != nil {
			return "", fmt.Errorf("apply migrations: %w", err)
		}
		return "Migrations applied", nil

	case "down":
		if err := m.Steps(-1); err != nil {
			return "", fmt.Errorf("roll back last migration: %w", err)
		}
		return "Last migration rolled back", nil

	case "goto":
		if len(args) < 2 {
			return "", fmt.Errorf("goto needs a version number")
		}
		version, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid version: %w", err)
		}
		err = m.Migrate(uint(version))
		if errors.Is(err, migrate.ErrNoChange) {
			return fmt.Sprintf("No changes: store is already at version %d", version), nil
		}
		if err != nil {
			return "", fmt.Errorf("migrate to version %d: %w", version, err)
		}
		return fmt.Sprintf("Migrated to version %d", version), nil

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return "No migrations applied yet", nil
		}
		if err != nil {
			return "", fmt.Errorf("read version: %w", err)
		}
		if dirty {
			return fmt.Sprintf("Current version: %d (dirty)", version), nil
		}
		return fmt.Sprintf("Current version: %d", version), nil
	}
	return "", errUsage
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
