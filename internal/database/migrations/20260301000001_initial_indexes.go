package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Audit log reads newest first per guild
			CREATE INDEX IF NOT EXISTS idx_member_events_guild_time
			ON member_events (guild_id, timestamp DESC, id DESC);

			-- Startup enumeration of guilds with a report destination
			CREATE INDEX IF NOT EXISTS idx_guild_configs_reportable
			ON guild_configs (guild_id)
			WHERE enabled AND report_channel_id IS NOT NULL;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_guild_configs_reportable;
			DROP INDEX IF EXISTS idx_member_events_guild_time;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
