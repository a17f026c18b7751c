package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/types"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const dailyStatColumns = "guild_id, date, joins, leaves, total_members"

// EventStore handles member event and daily rollup operations on SQLite.
type EventStore struct {
	store *Store
}

// Record increments the day's counter for the event type and appends the event.
func (e *EventStore) Record(ctx context.Context, event *types.MemberEvent, date string) (*types.DailyStat, error) {
	if !event.EventType.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidEventType, event.EventType)
	}

	return transaction(ctx, e.store, func(conn *sqlite.Conn) (*types.DailyStat, error) {
		joins, leaves := types.Increment(event.EventType)

		stat, err := upsertDailyStat(conn, `
			INSERT INTO daily_stats (guild_id, date, joins, leaves) VALUES (?, ?, ?, ?)
			ON CONFLICT (guild_id, date) DO UPDATE SET
				joins = joins + excluded.joins,
				leaves = leaves + excluded.leaves
			RETURNING `+dailyStatColumns,
			int64(event.GuildID), date, joins, leaves)
		if err != nil {
			return nil, fmt.Errorf("failed to increment daily stat: %w (guildID=%d, date=%s)", err, event.GuildID, date)
		}

		err = sqlitex.Execute(conn, `
			INSERT INTO member_events (guild_id, user_id, username, event_type, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					int64(event.GuildID),
					int64(event.UserID),
					event.Username,
					string(event.EventType),
					event.Timestamp.UnixMilli(),
				},
			})
		if err != nil {
			return nil, fmt.Errorf("failed to append member event: %w (guildID=%d)", err, event.GuildID)
		}

		event.ID = conn.LastInsertRowID()

		return stat, nil
	})
}

// EnsureDay returns the day's row, creating it with zero counters when absent.
func (e *EventStore) EnsureDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error) {
	return transaction(ctx, e.store, func(conn *sqlite.Conn) (*types.DailyStat, error) {
		err := sqlitex.Execute(conn, `
			INSERT INTO daily_stats (guild_id, date, joins, leaves) VALUES (?, ?, 0, 0)
			ON CONFLICT (guild_id, date) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{int64(guildID), date}})
		if err != nil {
			return nil, fmt.Errorf("failed to create daily stat: %w (guildID=%d, date=%s)", err, guildID, date)
		}

		stat, err := getDailyStat(conn, guildID, date)
		if err != nil {
			return nil, err
		}
		if stat == nil {
			return nil, types.ErrDailyStatNotFound
		}

		return stat, nil
	})
}

// GetDay returns the day's row or types.ErrDailyStatNotFound.
func (e *EventStore) GetDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error) {
	stat, err := query(ctx, e.store, func(conn *sqlite.Conn) (*types.DailyStat, error) {
		return getDailyStat(conn, guildID, date)
	})
	if err != nil {
		return nil, err
	}

	if stat == nil {
		return nil, types.ErrDailyStatNotFound
	}

	return stat, nil
}

// SetTotalMembers overwrites the day's membership total.
func (e *EventStore) SetTotalMembers(
	ctx context.Context, guildID snowflake.ID, date string, total int64,
) (*types.DailyStat, error) {
	return transaction(ctx, e.store, func(conn *sqlite.Conn) (*types.DailyStat, error) {
		stat, err := upsertDailyStat(conn, `
			INSERT INTO daily_stats (guild_id, date, joins, leaves, total_members) VALUES (?, ?, 0, 0, ?)
			ON CONFLICT (guild_id, date) DO UPDATE SET
				total_members = excluded.total_members
			RETURNING `+dailyStatColumns,
			int64(guildID), date, total)
		if err != nil {
			return nil, fmt.Errorf("failed to store member total: %w (guildID=%d, date=%s)", err, guildID, date)
		}

		return stat, nil
	})
}

// ListDays returns the existing rows within [from, to] ordered newest first.
func (e *EventStore) ListDays(ctx context.Context, guildID snowflake.ID, from, to string) ([]*types.DailyStat, error) {
	return query(ctx, e.store, func(conn *sqlite.Conn) ([]*types.DailyStat, error) {
		stats := make([]*types.DailyStat, 0)

		err := sqlitex.Execute(conn, `
			SELECT `+dailyStatColumns+` FROM daily_stats
			WHERE guild_id = ? AND date >= ? AND date <= ?
			ORDER BY date DESC`,
			&sqlitex.ExecOptions{
				Args: []any{int64(guildID), from, to},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stats = append(stats, scanDailyStat(stmt))
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("failed to list daily stats: %w (guildID=%d)", err, guildID)
		}

		return stats, nil
	})
}

// Summarize sums the rows within [from, to] and counts the days that have a row.
func (e *EventStore) Summarize(ctx context.Context, guildID snowflake.ID, from, to string) (*types.RangeStats, error) {
	return query(ctx, e.store, func(conn *sqlite.Conn) (*types.RangeStats, error) {
		result := &types.RangeStats{
			GuildID: guildID,
			From:    from,
			To:      to,
		}

		err := sqlitex.Execute(conn, `
			SELECT COALESCE(SUM(joins), 0), COALESCE(SUM(leaves), 0), COUNT(*)
			FROM daily_stats
			WHERE guild_id = ? AND date >= ? AND date <= ?`,
			&sqlitex.ExecOptions{
				Args: []any{int64(guildID), from, to},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					result.Joins = stmt.ColumnInt64(0)
					result.Leaves = stmt.ColumnInt64(1)
					result.DaysWithData = stmt.ColumnInt(2)
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("failed to summarize daily stats: %w (guildID=%d)", err, guildID)
		}

		return result, nil
	})
}

// ListEvents returns the most recent events ordered newest first.
func (e *EventStore) ListEvents(ctx context.Context, guildID snowflake.ID, limit int) ([]*types.MemberEvent, error) {
	return query(ctx, e.store, func(conn *sqlite.Conn) ([]*types.MemberEvent, error) {
		events := make([]*types.MemberEvent, 0, limit)

		err := sqlitex.Execute(conn, `
			SELECT id, guild_id, user_id, username, event_type, timestamp
			FROM member_events
			WHERE guild_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{int64(guildID), limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					events = append(events, &types.MemberEvent{
						ID:        stmt.ColumnInt64(0),
						GuildID:   snowflake.ID(stmt.ColumnInt64(1)),
						UserID:    snowflake.ID(stmt.ColumnInt64(2)),
						Username:  stmt.ColumnText(3),
						EventType: types.EventType(stmt.ColumnText(4)),
						Timestamp: time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
					})
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("failed to list member events: %w (guildID=%d)", err, guildID)
		}

		return events, nil
	})
}

func getDailyStat(conn *sqlite.Conn, guildID snowflake.ID, date string) (*types.DailyStat, error) {
	var stat *types.DailyStat

	err := sqlitex.Execute(conn,
		"SELECT "+dailyStatColumns+" FROM daily_stats WHERE guild_id = ? AND date = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(guildID), date},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stat = scanDailyStat(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stat: %w (guildID=%d, date=%s)", err, guildID, date)
	}

	return stat, nil
}

// upsertDailyStat runs an upsert whose RETURNING clause yields the stored row.
func upsertDailyStat(conn *sqlite.Conn, q string, args ...any) (*types.DailyStat, error) {
	var stat *types.DailyStat

	err := sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stat = scanDailyStat(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	if stat == nil {
		return nil, types.ErrDailyStatNotFound
	}

	return stat, nil
}

func scanDailyStat(stmt *sqlite.Stmt) *types.DailyStat {
	stat := &types.DailyStat{
		GuildID: snowflake.ID(stmt.ColumnInt64(0)),
		Date:    stmt.ColumnText(1),
		Joins:   stmt.ColumnInt64(2),
		Leaves:  stmt.ColumnInt64(3),
	}

	if stmt.ColumnType(4) != sqlite.TypeNull {
		total := stmt.ColumnInt64(4)
		stat.TotalMembers = &total
	}

	return stat
}
