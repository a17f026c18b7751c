package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/dbretry"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// EventModel handles database operations for member events and their daily rollups.
type EventModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewEvent creates an EventModel with database access.
func NewEvent(db *bun.DB, logger *zap.Logger) *EventModel {
	return &EventModel{
		db:     db,
		logger: logger.Named("db_event"),
	}
}

// Record increments the day's counter for the event type and appends the event.
// Both writes share one transaction so the rollup and the audit log never diverge.
func (r *EventModel) Record(ctx context.Context, event *types.MemberEvent, date string) (*types.DailyStat, error) {
	if !event.EventType.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidEventType, event.EventType)
	}

	var stat *types.DailyStat

	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		joins, leaves := types.Increment(event.EventType)

		row := types.NewDailyStat(event.GuildID, date)
		row.Joins = joins
		row.Leaves = leaves

		_, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (guild_id, date) DO UPDATE").
			Set("joins = ?TableAlias.joins + EXCLUDED.joins").
			Set("leaves = ?TableAlias.leaves + EXCLUDED.leaves").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to increment daily stat: %w (guildID=%d, date=%s)", err, event.GuildID, date)
		}

		// The insert is replayed on retry, so the event starts without an ID each attempt
		event.ID = 0

		_, err = tx.NewInsert().
			Model(event).
			Returning("id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to append member event: %w (guildID=%d)", err, event.GuildID)
		}

		stat = row

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stat, nil
}

// EnsureDay returns the day's row, creating it with zero counters when absent.
func (r *EventModel) EnsureDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.DailyStat, error) {
		_, err := r.db.NewInsert().
			Model(types.NewDailyStat(guildID, date)).
			On("CONFLICT (guild_id, date) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create daily stat: %w (guildID=%d, date=%s)", err, guildID, date)
		}

		return r.getDay(ctx, guildID, date)
	})
}

// GetDay returns the day's row or types.ErrDailyStatNotFound.
func (r *EventModel) GetDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.DailyStat, error) {
		return r.getDay(ctx, guildID, date)
	})
}

func (r *EventModel) getDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error) {
	var stat types.DailyStat

	err := r.db.NewSelect().
		Model(&stat).
		Where("guild_id = ?", guildID).
		Where("date = ?", date).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrDailyStatNotFound
		}

		return nil, fmt.Errorf("failed to get daily stat: %w (guildID=%d, date=%s)", err, guildID, date)
	}

	return &stat, nil
}

// SetTotalMembers overwrites the day's membership total.
func (r *EventModel) SetTotalMembers(
	ctx context.Context, guildID snowflake.ID, date string, total int64,
) (*types.DailyStat, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.DailyStat, error) {
		row := types.NewDailyStat(guildID, date)
		row.TotalMembers = &total

		_, err := r.db.NewInsert().
			Model(row).
			On("CONFLICT (guild_id, date) DO UPDATE").
			Set("total_members = EXCLUDED.total_members").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to store member total: %w (guildID=%d, date=%s)", err, guildID, date)
		}

		return row, nil
	})
}

// ListDays returns the existing rows within [from, to] ordered newest first.
func (r *EventModel) ListDays(ctx context.Context, guildID snowflake.ID, from, to string) ([]*types.DailyStat, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.DailyStat, error) {
		stats := make([]*types.DailyStat, 0)

		err := r.db.NewSelect().
			Model(&stats).
			Where("guild_id = ?", guildID).
			Where("date >= ? AND date <= ?", from, to).
			Order("date DESC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list daily stats: %w (guildID=%d)", err, guildID)
		}

		return stats, nil
	})
}

// Summarize sums the rows within [from, to] and counts the days that have a row.
func (r *EventModel) Summarize(ctx context.Context, guildID snowflake.ID, from, to string) (*types.RangeStats, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.RangeStats, error) {
		var result struct {
			Joins        int64 `bun:"joins"`
			Leaves       int64 `bun:"leaves"`
			DaysWithData int   `bun:"days_with_data"`
		}

		err := r.db.NewSelect().
			Model((*types.DailyStat)(nil)).
			ColumnExpr("COALESCE(SUM(joins), 0) AS joins").
			ColumnExpr("COALESCE(SUM(leaves), 0) AS leaves").
			ColumnExpr("COUNT(*) AS days_with_data").
			Where("guild_id = ?", guildID).
			Where("date >= ? AND date <= ?", from, to).
			Scan(ctx, &result)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize daily stats: %w (guildID=%d)", err, guildID)
		}

		return &types.RangeStats{
			GuildID:      guildID,
			From:         from,
			To:           to,
			Joins:        result.Joins,
			Leaves:       result.Leaves,
			DaysWithData: result.DaysWithData,
		}, nil
	})
}

// ListEvents returns the most recent events ordered newest first.
func (r *EventModel) ListEvents(ctx context.Context, guildID snowflake.ID, limit int) ([]*types.MemberEvent, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.MemberEvent, error) {
		events := make([]*types.MemberEvent, 0, limit)

		err := r.db.NewSelect().
			Model(&events).
			Where("guild_id = ?", guildID).
			OrderExpr("timestamp DESC, id DESC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list member events: %w (guildID=%d)", err, guildID)
		}

		return events, nil
	})
}
