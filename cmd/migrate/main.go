package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Schema migration runner. Deploys run `migrate -command up` before the api
// process starts; the api itself never touches the schema.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var (
		command       string
		steps         int
		migrationsDir string
		databaseURL   string
	)
	flag.StringVar(&command, "command", "up", "migration command: up, down, version")
	flag.IntVar(&steps, "steps", 0, "number of migrations to run (0 = all)")
	flag.StringVar(&migrationsDir, "dir", "migrations", "path to migrations directory")
	flag.StringVar(&databaseURL, "database", "", "database URL (overrides DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Error("DATABASE_URL env or -database flag is required")
		os.Exit(1)
	}

	absPath, err := filepath.Abs(migrationsDir)
	if err != nil {
		log.Error("resolve migrations directory", "err", err)
		os.Exit(1)
	}
	sourceURL := fmt.Sprintf("file://%s", absPath)

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		log.Error("create migrate instance", "err", err)
		os.Exit(1)
	}
	defer m.Close()

	log.Info("running migration", "source", sourceURL, "command", command, "steps", steps)

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			log.Info("no migrations applied yet")
			return
		}
		if verr != nil {
			log.Error("read version", "err", verr)
			os.Exit(1)
		}
		log.Info("current migration version", "version", version, "dirty", dirty)
		return
	default:
		log.Error("unknown command", "command", command)
		os.Exit(1)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("no migrations to apply")
		return
	}
	if err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}
	log.Info("migration completed")
}
