package database

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/types"
)

// ConfigStore persists per-guild report settings.
type ConfigStore interface {
	// Get returns the guild's config or types.ErrGuildConfigNotFound.
	Get(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error)
	// Save applies a partial update, creating the config from defaults when absent.
	Save(
		ctx context.Context, guildID snowflake.ID, update *types.GuildConfigUpdate, defaults types.GuildDefaults,
	) (*types.GuildConfig, error)
	// List returns every tracked guild's config ordered by guild ID.
	List(ctx context.Context) ([]*types.GuildConfig, error)
}

// EventStore persists member events and their daily rollups.
type EventStore interface {
	// Record increments the day's counter and appends the event in one transaction.
	Record(ctx context.Context, event *types.MemberEvent, date string) (*types.DailyStat, error)
	// EnsureDay returns the day's row, creating it with zero counters when absent.
	EnsureDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error)
	// GetDay returns the day's row or types.ErrDailyStatNotFound.
	GetDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error)
	// SetTotalMembers overwrites the day's membership total, creating the row when absent.
	SetTotalMembers(ctx context.Context, guildID snowflake.ID, date string, total int64) (*types.DailyStat, error)
	// ListDays returns the existing rows within [from, to] ordered newest first.
	ListDays(ctx context.Context, guildID snowflake.ID, from, to string) ([]*types.DailyStat, error)
	// Summarize sums the rows within [from, to] and counts the days that have a row.
	Summarize(ctx context.Context, guildID snowflake.ID, from, to string) (*types.RangeStats, error)
	// ListEvents returns the most recent events ordered newest first.
	ListEvents(ctx context.Context, guildID snowflake.ID, limit int) ([]*types.MemberEvent, error)
}

// Client defines the methods that a storage backend must implement.
type Client interface {
	// Config returns the guild config store.
	Config() ConfigStore
	// Events returns the member event store.
	Events() EventStore
	// Close gracefully shuts down the storage connection.
	Close() error
}
