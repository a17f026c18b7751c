package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/internal/calendar"
	"github.com/robalyx/jointracker/internal/database/types"
	"go.uber.org/zap"
)

// ErrInvalidDays indicates a stats window shorter than one day.
var ErrInvalidDays = errors.New("days must be at least 1")

// ConfigGetter looks up a guild's config.
type ConfigGetter interface {
	Get(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error)
}

// DailyStore is the part of the event store the stats service works with.
type DailyStore interface {
	Record(ctx context.Context, event *types.MemberEvent, date string) (*types.DailyStat, error)
	EnsureDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error)
	GetDay(ctx context.Context, guildID snowflake.ID, date string) (*types.DailyStat, error)
	SetTotalMembers(ctx context.Context, guildID snowflake.ID, date string, total int64) (*types.DailyStat, error)
	ListDays(ctx context.Context, guildID snowflake.ID, from, to string) ([]*types.DailyStat, error)
	Summarize(ctx context.Context, guildID snowflake.ID, from, to string) (*types.RangeStats, error)
}

// StatsService buckets member events into daily stats and reads them back,
// always in the timezone the guild has configured at the time of the call.
type StatsService struct {
	configs ConfigGetter
	events  DailyStore
	clock   clockwork.Clock
	logger  *zap.Logger
}

// NewStats creates a new stats service.
func NewStats(configs ConfigGetter, events DailyStore, clock clockwork.Clock, logger *zap.Logger) *StatsService {
	return &StatsService{
		configs: configs,
		events:  events,
		clock:   clock,
		logger:  logger.Named("stats_service"),
	}
}

// Location returns the guild's configured timezone. Guilds without a config use UTC,
// as do guilds whose stored timezone no longer loads.
func (s *StatsService) Location(ctx context.Context, guildID snowflake.ID) (*time.Location, error) {
	cfg, err := s.configs.Get(ctx, guildID)
	if err != nil {
		if errors.Is(err, types.ErrGuildConfigNotFound) {
			return time.UTC, nil
		}

		return nil, fmt.Errorf("failed to resolve guild timezone: %w", err)
	}

	loc, err := calendar.LoadLocation(cfg.Timezone)
	if err != nil {
		s.logger.Warn("Stored timezone failed to load, falling back to UTC",
			zap.Uint64("guildID", uint64(guildID)),
			zap.String("timezone", cfg.Timezone),
			zap.Error(err))

		return time.UTC, nil
	}

	return loc, nil
}

// RecordJoin records a member joining the guild in today's bucket.
func (s *StatsService) RecordJoin(
	ctx context.Context, guildID, userID snowflake.ID, username string,
) (*types.DailyStat, error) {
	return s.record(ctx, guildID, userID, username, types.EventJoin)
}

// RecordLeave records a member leaving the guild in today's bucket.
func (s *StatsService) RecordLeave(
	ctx context.Context, guildID, userID snowflake.ID, username string,
) (*types.DailyStat, error) {
	return s.record(ctx, guildID, userID, username, types.EventLeave)
}

func (s *StatsService) record(
	ctx context.Context, guildID, userID snowflake.ID, username string, eventType types.EventType,
) (*types.DailyStat, error) {
	loc, err := s.Location(ctx, guildID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	stat, err := s.events.Record(ctx, &types.MemberEvent{
		GuildID:   guildID,
		UserID:    userID,
		Username:  username,
		EventType: eventType,
		Timestamp: now.UTC(),
	}, calendar.Date(now, loc))
	if err != nil {
		return nil, fmt.Errorf("failed to record %s: %w", eventType, err)
	}

	return stat, nil
}

// StoreTotalMembers sets the membership total of the local day of at, replacing any
// earlier value for the day.
func (s *StatsService) StoreTotalMembers(
	ctx context.Context, guildID snowflake.ID, at time.Time, total int64,
) (*types.DailyStat, error) {
	loc, err := s.Location(ctx, guildID)
	if err != nil {
		return nil, err
	}

	stat, err := s.events.SetTotalMembers(ctx, guildID, calendar.Date(at, loc), total)
	if err != nil {
		return nil, fmt.Errorf("failed to store member total: %w", err)
	}

	return stat, nil
}

// Today returns today's stats, creating the day's row when absent.
func (s *StatsService) Today(ctx context.Context, guildID snowflake.ID) (*types.DailyStat, error) {
	loc, err := s.Location(ctx, guildID)
	if err != nil {
		return nil, err
	}

	stat, err := s.events.EnsureDay(ctx, guildID, calendar.Date(s.clock.Now(), loc))
	if err != nil {
		return nil, fmt.Errorf("failed to get today's stats: %w", err)
	}

	return stat, nil
}

// Yesterday returns yesterday's stats. A day without a row is returned zero filled
// and is not created.
func (s *StatsService) Yesterday(ctx context.Context, guildID snowflake.ID) (*types.DailyStat, error) {
	loc, err := s.Location(ctx, guildID)
	if err != nil {
		return nil, err
	}

	return s.DayBefore(ctx, guildID, s.clock.Now(), loc)
}

// DayBefore returns the stats of the day before the day of the instant in loc,
// zero filled when the day has no row.
func (s *StatsService) DayBefore(
	ctx context.Context, guildID snowflake.ID, instant time.Time, loc *time.Location,
) (*types.DailyStat, error) {
	date := calendar.DaysBefore(instant, loc, 1)

	stat, err := s.events.GetDay(ctx, guildID, date)
	if err != nil {
		if errors.Is(err, types.ErrDailyStatNotFound) {
			return types.NewDailyStat(guildID, date), nil
		}

		return nil, fmt.Errorf("failed to get stats for %s: %w", date, err)
	}

	return stat, nil
}

// Range sums the stats of the last days days, today included.
func (s *StatsService) Range(ctx context.Context, guildID snowflake.ID, days int) (*types.RangeStats, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDays, days)
	}

	loc, err := s.Location(ctx, guildID)
	if err != nil {
		return nil, err
	}

	from, to := calendar.Window(s.clock.Now(), loc, days)

	result, err := s.events.Summarize(ctx, guildID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get range stats: %w", err)
	}

	result.Days = days

	return result, nil
}

// DailyBreakdown returns the existing daily rows of the last days days, newest first.
// Days without activity are absent from the result.
func (s *StatsService) DailyBreakdown(ctx context.Context, guildID snowflake.ID, days int) ([]*types.DailyStat, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDays, days)
	}

	loc, err := s.Location(ctx, guildID)
	if err != nil {
		return nil, err
	}

	from, to := calendar.Window(s.clock.Now(), loc, days)

	stats, err := s.events.ListDays(ctx, guildID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily breakdown: %w", err)
	}

	return stats, nil
}
