package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/cmd/db/commands"
	"github.com/robalyx/jointracker/internal/database"
	"github.com/robalyx/jointracker/internal/database/migrations"
	"github.com/robalyx/jointracker/internal/database/sqlite"
	"github.com/robalyx/jointracker/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// Setup dependencies
	deps, err := setupDependencies()
	if err != nil {
		return fmt.Errorf("failed to setup dependencies: %w", err)
	}
	defer deps.DB.Close()

	app := &cli.Command{
		Name:  "db",
		Usage: "Database management tool",
		Commands: slices.Concat(
			commands.MigrationCommands(deps),
			commands.ExportCommands(deps),
		),
	}

	return app.Run(context.Background(), os.Args)
}

// setupDependencies opens the configured storage without applying pending
// PostgreSQL migrations, so the migration commands can manage them.
func setupDependencies() (*commands.CLIDependencies, error) {
	// Load full configuration
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Create development logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	ctx := context.Background()
	deps := &commands.CLIDependencies{Logger: logger}

	switch cfg.Common.Storage.Driver {
	case config.DriverPostgres:
		db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		deps.DB = db
		deps.Migrator = migrate.NewMigrator(db.DB(), migrations.Migrations)

	default:
		db, err := sqlite.Open(ctx, &cfg.Common.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		deps.DB = db
	}

	deps.Stats = database.NewService(deps.DB, clockwork.NewRealClock(), logger).Stats()

	return deps, nil
}
