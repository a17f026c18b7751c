package commands

import (
	"context"

	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// MigrationCommands returns the PostgreSQL migration commands. The SQLite store
// applies its schema when opened and has no migration history.
func MigrationCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "init",
			Usage:  "Initialize migration tables",
			Action: withMigrator(deps, handleInit),
		},
		{
			Name:   "migrate",
			Usage:  "Run pending migrations",
			Action: withMigrator(deps, handleMigrate),
		},
		{
			Name:   "rollback",
			Usage:  "Rollback the last migration group",
			Action: withMigrator(deps, handleRollback),
		},
		{
			Name:   "status",
			Usage:  "Show migration status",
			Action: withMigrator(deps, handleStatus),
		},
		{
			Name:      "create",
			Usage:     "Create a new Go migration file",
			ArgsUsage: "NAME",
			Action:    withMigrator(deps, handleCreate),
		},
	}
}

type migrationAction func(ctx context.Context, c *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error

// withMigrator rejects the command when the configured driver has no migrator.
func withMigrator(deps *CLIDependencies, action migrationAction) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if deps.Migrator == nil {
			return ErrMigrationsUnsupported
		}
		return action(ctx, c, deps.Migrator, deps.Logger)
	}
}

func handleInit(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Init(ctx); err != nil {
		return err
	}

	logger.Info("Initialized migration tables")

	return nil
}

func handleMigrate(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Lock(ctx); err != nil {
		return err
	}
	defer migrator.Unlock(ctx) //nolint:errcheck // -

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		logger.Info("No new migrations to run (database is up to date)")
		return nil
	}

	logger.Info("Successfully migrated", zap.String("group", group.String()))

	return nil
}

func handleRollback(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if err := migrator.Lock(ctx); err != nil {
		return err
	}
	defer migrator.Unlock(ctx) //nolint:errcheck // -

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		logger.Info("No groups to roll back")
		return nil
	}

	logger.Info("Successfully rolled back", zap.String("group", group.String()))

	return nil
}

func handleStatus(ctx context.Context, _ *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}

	logger.Info("Migration status",
		zap.String("migrations", ms.String()),
		zap.String("unapplied", ms.Unapplied().String()),
		zap.String("last_group", ms.LastGroup().String()),
	)

	return nil
}

func handleCreate(ctx context.Context, c *cli.Command, migrator *migrate.Migrator, logger *zap.Logger) error {
	if c.Args().Len() != 1 {
		return ErrNameRequired
	}

	mf, err := migrator.CreateGoMigration(ctx, c.Args().First())
	if err != nil {
		return err
	}

	logger.Info("Created Go migration",
		zap.String("name", mf.Name),
		zap.String("path", mf.Path),
	)

	return nil
}
