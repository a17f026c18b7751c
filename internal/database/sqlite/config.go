package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/types"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const guildConfigColumns = `guild_id, report_channel_id, report_time, timezone, enabled,
	notify_endpoint, created_at, updated_at`

// ConfigStore handles guild config operations on SQLite.
type ConfigStore struct {
	store *Store
}

// Get retrieves the config of a guild.
func (c *ConfigStore) Get(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error) {
	cfg, err := query(ctx, c.store, func(conn *sqlite.Conn) (*types.GuildConfig, error) {
		return getGuildConfig(conn, guildID)
	})
	if err != nil {
		return nil, err
	}

	if cfg == nil {
		return nil, types.ErrGuildConfigNotFound
	}

	return cfg, nil
}

// Save applies a partial update to a guild's config, creating it from defaults when absent.
func (c *ConfigStore) Save(
	ctx context.Context, guildID snowflake.ID, update *types.GuildConfigUpdate, defaults types.GuildDefaults,
) (*types.GuildConfig, error) {
	saved, err := transaction(ctx, c.store, func(conn *sqlite.Conn) (*types.GuildConfig, error) {
		now := time.Now().UTC()

		cfg, err := getGuildConfig(conn, guildID)
		if err != nil {
			return nil, err
		}

		if cfg == nil {
			cfg = types.NewGuildConfig(guildID, defaults, now)
		}

		update.Apply(cfg, now)

		err = sqlitex.Execute(conn, `
			INSERT INTO guild_configs (`+guildConfigColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (guild_id) DO UPDATE SET
				report_channel_id = excluded.report_channel_id,
				report_time = excluded.report_time,
				timezone = excluded.timezone,
				enabled = excluded.enabled,
				notify_endpoint = excluded.notify_endpoint,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{
					int64(cfg.GuildID),
					nullableID(cfg.ReportChannelID),
					cfg.ReportTime,
					cfg.Timezone,
					cfg.Enabled,
					nullableText(cfg.NotifyEndpoint),
					cfg.CreatedAt.UnixMilli(),
					cfg.UpdatedAt.UnixMilli(),
				},
			})
		if err != nil {
			return nil, fmt.Errorf("failed to save guild config: %w (guildID=%d)", err, guildID)
		}

		return cfg, nil
	})
	if err != nil {
		return nil, err
	}

	c.store.logger.Debug("Saved guild config",
		zap.Uint64("guildID", uint64(guildID)),
		zap.String("reportTime", saved.ReportTime),
		zap.String("timezone", saved.Timezone),
		zap.Bool("enabled", saved.Enabled))

	return saved, nil
}

// List retrieves the configs of all tracked guilds.
func (c *ConfigStore) List(ctx context.Context) ([]*types.GuildConfig, error) {
	return query(ctx, c.store, func(conn *sqlite.Conn) ([]*types.GuildConfig, error) {
		configs := make([]*types.GuildConfig, 0)

		err := sqlitex.Execute(conn,
			"SELECT "+guildConfigColumns+" FROM guild_configs ORDER BY guild_id ASC",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					configs = append(configs, scanGuildConfig(stmt))
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("failed to list guild configs: %w", err)
		}

		return configs, nil
	})
}

// getGuildConfig returns nil without error when the guild has no config.
func getGuildConfig(conn *sqlite.Conn, guildID snowflake.ID) (*types.GuildConfig, error) {
	var cfg *types.GuildConfig

	err := sqlitex.Execute(conn,
		"SELECT "+guildConfigColumns+" FROM guild_configs WHERE guild_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(guildID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cfg = scanGuildConfig(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get guild config: %w (guildID=%d)", err, guildID)
	}

	return cfg, nil
}

func scanGuildConfig(stmt *sqlite.Stmt) *types.GuildConfig {
	cfg := &types.GuildConfig{
		GuildID:    snowflake.ID(stmt.ColumnInt64(0)),
		ReportTime: stmt.ColumnText(2),
		Timezone:   stmt.ColumnText(3),
		Enabled:    stmt.ColumnBool(4),
		CreatedAt:  time.UnixMilli(stmt.ColumnInt64(6)).UTC(),
		UpdatedAt:  time.UnixMilli(stmt.ColumnInt64(7)).UTC(),
	}

	if stmt.ColumnType(1) != sqlite.TypeNull {
		cfg.ReportChannelID = snowflake.ID(stmt.ColumnInt64(1))
	}
	if stmt.ColumnType(5) != sqlite.TypeNull {
		cfg.NotifyEndpoint = stmt.ColumnText(5)
	}

	return cfg
}

func nullableID(id snowflake.ID) any {
	if id == 0 {
		return nil
	}
	return int64(id)
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
