package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/dbretry"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ConfigModel handles database operations for guild configs.
type ConfigModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewConfig creates a ConfigModel with database access.
func NewConfig(db *bun.DB, logger *zap.Logger) *ConfigModel {
	return &ConfigModel{
		db:     db,
		logger: logger.Named("db_config"),
	}
}

// Get retrieves the config of a guild.
func (r *ConfigModel) Get(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.GuildConfig, error) {
		var cfg types.GuildConfig

		err := r.db.NewSelect().
			Model(&cfg).
			Where("guild_id = ?", guildID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrGuildConfigNotFound
			}

			return nil, fmt.Errorf("failed to get guild config: %w (guildID=%d)", err, guildID)
		}

		return &cfg, nil
	})
}

// Save applies a partial update to a guild's config inside a transaction,
// creating the config from defaults when the guild has none yet. The row is
// seeded before it is locked so concurrent first saves serialize on it.
func (r *ConfigModel) Save(
	ctx context.Context, guildID snowflake.ID, update *types.GuildConfigUpdate, defaults types.GuildDefaults,
) (*types.GuildConfig, error) {
	var saved *types.GuildConfig

	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()

		if _, err := seedConfigQuery(tx, types.NewGuildConfig(guildID, defaults, now)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create guild config: %w (guildID=%d)", err, guildID)
		}

		cfg := new(types.GuildConfig)

		err := tx.NewSelect().
			Model(cfg).
			Where("guild_id = ?", guildID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock guild config: %w (guildID=%d)", err, guildID)
		}

		update.Apply(cfg, now)

		_, err = tx.NewUpdate().
			Model(cfg).
			Column("report_channel_id", "report_time", "timezone", "enabled", "notify_endpoint", "updated_at").
			Where("guild_id = ?", guildID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save guild config: %w (guildID=%d)", err, guildID)
		}

		saved = cfg

		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Saved guild config",
		zap.Uint64("guildID", uint64(guildID)),
		zap.String("reportTime", saved.ReportTime),
		zap.String("timezone", saved.Timezone),
		zap.Bool("enabled", saved.Enabled))

	return saved, nil
}

// seedConfigQuery inserts cfg unless the guild already has a config.
func seedConfigQuery(db bun.IDB, cfg *types.GuildConfig) *bun.InsertQuery {
	return db.NewInsert().
		Model(cfg).
		On("CONFLICT (guild_id) DO NOTHING")
}

// List retrieves the configs of all tracked guilds.
func (r *ConfigModel) List(ctx context.Context) ([]*types.GuildConfig, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.GuildConfig, error) {
		var configs []*types.GuildConfig

		err := r.db.NewSelect().
			Model(&configs).
			Order("guild_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list guild configs: %w", err)
		}

		return configs, nil
	})
}
