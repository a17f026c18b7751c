package commands

import (
	"errors"

	"github.com/robalyx/jointracker/internal/database"
	"github.com/robalyx/jointracker/internal/database/service"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

var (
	ErrNameRequired          = errors.New("NAME argument required")
	ErrGuildIDRequired       = errors.New("GUILD_ID argument required")
	ErrMigrationsUnsupported = errors.New("migrations are only available for the postgres driver")
)

// CLIDependencies holds the common dependencies needed by CLI commands.
type CLIDependencies struct {
	DB       database.Client
	Stats    *service.StatsService
	Migrator *migrate.Migrator // nil unless the postgres driver is configured
	Logger   *zap.Logger
}
