package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/config"
	"github.com/stemsi/cbt-exam/internal/logger"
)

var errUsage = errors.New("usage")

func main() {
	var migrationDir string
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.Parse()

	// Load config
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	err := run(cfg, log, migrationDir, flag.Args())
	if errors.Is(err, errUsage) {
		printUsage()
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger, migrationDir string, args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationDir), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer m.Close()

	switch command := args[0]; command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("up: %w", err)
		}
		log.Info().Msg("Migrated up successfully")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("down: %w", err)
		}
		log.Info().Msg("Migrated down successfully")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migration applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current version")
	case "force":
		if len(args) < 2 {
			return errors.New("force requires version argument")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force: %w", err)
		}
		log.Info().Int("version", v).Msg("Forced version")
	default:
		return errUsage
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
