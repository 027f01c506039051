package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/joao-fontenele/perfumeshop/internal/config"
	"github.com/joao-fontenele/perfumeshop/internal/logger"
)

func main() {
	log := logger.New("migrate")

	if err := config.LoadDotEnv(); err != nil {
		log.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		log.Error("usage: migrate <up|down|force N|version>")
		os.Exit(1)
	}

	postgresURL, err := config.Required("POSTGRES_URL")
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	migrationsPath := config.String("MIGRATIONS_PATH", "file://migrations")

	m, err := migrate.New(migrationsPath, postgresURL)
	if err != nil {
		log.Error("failed to create migrate instance", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	command := args[0]

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no pending migrations")
			return
		}
		if err != nil {
			log.Error("migration up failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("migrations applied successfully")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migrations to rollback")
			return
		}
		if err != nil {
			log.Error("migration down failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("migration rolled back successfully")

	case "force":
		if len(args) < 2 {
			log.Error("usage: migrate force <version>")
			os.Exit(1)
		}
		version, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			log.Error("invalid version", slog.String("version", args[1]))
			os.Exit(1)
		}
		if err := m.Force(version); err != nil {
			log.Error("force failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("migration version forced", slog.Int("version", version))

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("no migrations applied yet")
			return
		}
		if err != nil {
			log.Error("failed to get version", slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	default:
		log.Error("unknown command", slog.String("command", command))
		os.Exit(1)
	}
}
