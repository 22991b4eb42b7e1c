package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"registrar/internal/config"
	"registrar/internal/logging"
)

const usage = "usage: migrate up|down|steps N|force V|version"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("migrate.failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Log, os.Stderr)
	if cfg.Store.Driver != config.StorePostgres {
		logger.Warn("migrate.store_driver", "driver", cfg.Store.Driver, "note", "migrations only apply to postgres")
	}

	source := os.Getenv("REGISTRAR_MIGRATIONS")
	if source == "" {
		source = "file://db/migrations"
	}

	m, err := migrate.New(source, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("opening migrations %s: %w", source, err)
	}
	defer func() { _, _ = m.Close() }()

	switch args[0] {
	case "up":
		err = ignoreNoChange(m.Up())
	case "down":
		err = ignoreNoChange(m.Down())
	case "steps", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s requires a number argument", args[0])
		}
		n, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("invalid %s argument %q: %w", args[0], args[1], convErr)
		}
		if args[0] == "steps" {
			err = ignoreNoChange(m.Steps(n))
		} else {
			err = m.Force(n)
		}
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
			return fmt.Errorf("reading version: %w", verErr)
		}
		fmt.Printf("version: %d, dirty: %v\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", args[0], err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrate.ok", "command", args[0], "version", version, "dirty", dirty)
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
