package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/leadworks/auction-broker/internal/infrastructure/config"
)

const migrationsDir = "migrations"

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, status, create")
		name   = flag.String("name", "", "Migration name (for create action)")
		steps  = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *action == "create" {
		if *name == "" {
			slog.Error("migration name is required for create action")
			os.Exit(1)
		}
		if err := createMigration(*name); err != nil {
			slog.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		return
	}

	m, err := newMigrator(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to initialize migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *action {
	case "up":
		err = runUp(m, *steps)
	case "down":
		err = runDown(m, *steps)
	case "status":
		err = printStatus(m)
	default:
		slog.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	driver, err := pgxmigrate.WithInstance(databaseURL, &pgxmigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("open migration driver: %w", err)
	}

	sourceURL := "file://" + filepath.ToSlash(migrationsDir)
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "pgx", driver)
	if err != nil {
		return nil, fmt.Errorf("load migration source: %w", err)
	}
	return m, nil
}

func runUp(m *migrate.Migrate, steps int) error {
	if steps > 0 {
		if err := m.Steps(steps); err != nil {
			return err
		}
		slog.Info("migrations completed", "steps", steps)
		return nil
	}
	if err := m.Up(); err != nil {
		return err
	}
	slog.Info("migrations completed")
	return nil
}

func runDown(m *migrate.Migrate, steps int) error {
	if steps > 0 {
		if err := m.Steps(-steps); err != nil {
			return err
		}
		slog.Info("rollback completed", "steps", steps)
		return nil
	}
	if err := m.Down(); err != nil {
		return err
	}
	slog.Info("rollback completed")
	return nil
}

func printStatus(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("no migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("version: %d dirty: %t\n", version, dirty)
	return nil
}

func createMigration(name string) error {
	if err := os.MkdirAll(migrationsDir, 0755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	upFile := filepath.Join(migrationsDir, fmt.Sprintf("%s_%s.up.sql", timestamp, name))
	downFile := filepath.Join(migrationsDir, fmt.Sprintf("%s_%s.down.sql", timestamp, name))

	if err := os.WriteFile(upFile, []byte("-- "+name+" (up)\n"), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(downFile, []byte("-- "+name+" (down)\n"), 0644); err != nil {
		return err
	}

	slog.Info("created migration", "up", upFile, "down", downFile)
	return nil
}
