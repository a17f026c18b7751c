// Package tracker is the entry point the platform adapter and the command layer use.
// It ties the stores, the stats service, the scheduler and the delivery sinks together.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/internal/calendar"
	"github.com/robalyx/jointracker/internal/database"
	"github.com/robalyx/jointracker/internal/database/service"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/report"
	"github.com/robalyx/jointracker/internal/scheduler"
	"github.com/robalyx/jointracker/internal/webhook"
	"go.uber.org/zap"
)

var (
	// ErrNoDestination indicates a report was requested for a guild without a report channel.
	ErrNoDestination = errors.New("no report channel configured")
	// ErrNoEndpoint indicates a webhook push was requested for a guild without an endpoint.
	ErrNoEndpoint = errors.New("no webhook endpoint configured")
)

// History limits.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

// Publisher delivers a payload to a channel on the chat platform.
type Publisher interface {
	PublishReport(ctx context.Context, channelID snowflake.ID, payload *report.Payload) error
}

// MemberCounter looks up the current member count of a guild.
type MemberCounter interface {
	MemberCount(ctx context.Context, guildID snowflake.ID) (int64, error)
}

// Notifier pushes a payload to an external webhook endpoint.
type Notifier interface {
	Send(ctx context.Context, endpoint string, payload *report.Payload) error
}

// Options tunes the tracker.
type Options struct {
	// Defaults are the values new guild configs start from.
	Defaults types.GuildDefaults
	// DeliveryTimeout bounds each outbound call to the platform or a webhook.
	DeliveryTimeout time.Duration
	// Scheduler tunes the job scheduler.
	Scheduler scheduler.Options
}

// Tracker implements the membership tracking operations.
type Tracker struct {
	configs   database.ConfigStore
	events    database.EventStore
	stats     *service.StatsService
	scheduler *scheduler.Scheduler
	publisher Publisher
	members   MemberCounter
	notifier  Notifier
	clock     clockwork.Clock
	opts      Options
	logger    *zap.Logger
}

// New creates a tracker and the scheduler it drives. The status recorder may be nil.
func New(
	client database.Client,
	publisher Publisher,
	members MemberCounter,
	notifier Notifier,
	status scheduler.StatusRecorder,
	clock clockwork.Clock,
	opts Options,
	logger *zap.Logger,
) *Tracker {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}

	t := &Tracker{
		configs:   client.Config(),
		events:    client.Events(),
		stats:     database.NewService(client, clock, logger).Stats(),
		publisher: publisher,
		members:   members,
		notifier:  notifier,
		clock:     clock,
		opts:      opts,
		logger:    logger.Named("tracker"),
	}

	opts.Scheduler.FireTimeout = max(opts.Scheduler.FireTimeout, 3*opts.DeliveryTimeout)
	t.scheduler = scheduler.New(client.Config(), t, clock, status, opts.Scheduler, logger)

	return t
}

// Start schedules the jobs of every tracked guild.
func (t *Tracker) Start(ctx context.Context) error {
	started, err := t.scheduler.StartAll(ctx)
	if err != nil {
		return err
	}

	t.logger.Info("Tracker started", zap.Int("guilds", started))

	return nil
}

// Stop shuts the scheduler down, waiting for in-flight jobs until ctx ends.
func (t *Tracker) Stop(ctx context.Context) {
	t.scheduler.StopAll(ctx)
}

// Jobs returns the live scheduled jobs.
func (t *Tracker) Jobs() []scheduler.Job {
	return t.scheduler.Jobs()
}

// RecordJoin records a member joining a guild.
func (t *Tracker) RecordJoin(ctx context.Context, guildID, userID snowflake.ID, username string) (*types.DailyStat, error) {
	stat, err := t.stats.RecordJoin(ctx, guildID, userID, username)
	recordEvent(types.EventJoin, err)

	return stat, err
}

// RecordLeave records a member leaving a guild.
func (t *Tracker) RecordLeave(ctx context.Context, guildID, userID snowflake.ID, username string) (*types.DailyStat, error) {
	stat, err := t.stats.RecordLeave(ctx, guildID, userID, username)
	recordEvent(types.EventLeave, err)

	return stat, err
}

// GetGuildConfig returns the guild's config or types.ErrGuildConfigNotFound.
func (t *Tracker) GetGuildConfig(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error) {
	return t.configs.Get(ctx, guildID)
}

// SetGuildConfig validates and saves a partial config update, then refreshes the
// guild's jobs. Invalid values are rejected before anything is written.
func (t *Tracker) SetGuildConfig(
	ctx context.Context, guildID snowflake.ID, update *types.GuildConfigUpdate,
) (*types.GuildConfig, error) {
	normalized, err := normalizeUpdate(update)
	if err != nil {
		return nil, err
	}

	cfg, err := t.configs.Save(ctx, guildID, normalized, t.opts.Defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to save guild config: %w", err)
	}

	if err := t.scheduler.Refresh(ctx, guildID); err != nil {
		return cfg, fmt.Errorf("config saved but jobs were not refreshed: %w", err)
	}

	t.logger.Info("Guild config updated",
		zap.Uint64("guildID", uint64(guildID)),
		zap.String("reportTime", cfg.ReportTime),
		zap.String("timezone", cfg.Timezone),
		zap.Bool("enabled", cfg.Enabled),
		zap.Bool("hasDestination", cfg.HasDestination()))

	return cfg, nil
}

// normalizeUpdate rejects invalid values and returns a copy with canonical forms.
func normalizeUpdate(update *types.GuildConfigUpdate) (*types.GuildConfigUpdate, error) {
	if update == nil {
		return &types.GuildConfigUpdate{}, nil
	}

	normalized := *update

	if update.ReportTime != nil {
		clock, err := calendar.ParseClock(*update.ReportTime)
		if err != nil {
			return nil, err
		}

		reportTime := clock.String()
		normalized.ReportTime = &reportTime
	}

	if update.Timezone != nil {
		loc, err := calendar.LoadLocation(*update.Timezone)
		if err != nil {
			return nil, err
		}

		timezone := loc.String()
		normalized.Timezone = &timezone
	}

	if update.NotifyEndpoint != nil {
		endpoint := strings.TrimSpace(*update.NotifyEndpoint)
		if endpoint != "" {
			if err := webhook.ValidateEndpoint(endpoint); err != nil {
				return nil, err
			}
		}

		normalized.NotifyEndpoint = &endpoint
	}

	return &normalized, nil
}

// Location returns the guild's timezone.
func (t *Tracker) Location(ctx context.Context, guildID snowflake.ID) (*time.Location, error) {
	return t.stats.Location(ctx, guildID)
}

// GetTodayStats returns today's stats of the guild.
func (t *Tracker) GetTodayStats(ctx context.Context, guildID snowflake.ID) (*types.DailyStat, error) {
	return t.stats.Today(ctx, guildID)
}

// GetYesterdayStats returns yesterday's stats of the guild, zero filled when idle.
func (t *Tracker) GetYesterdayStats(ctx context.Context, guildID snowflake.ID) (*types.DailyStat, error) {
	return t.stats.Yesterday(ctx, guildID)
}

// GetStatsRange returns the summed stats of the last days days.
func (t *Tracker) GetStatsRange(ctx context.Context, guildID snowflake.ID, days int) (*types.RangeStats, error) {
	return t.stats.Range(ctx, guildID, days)
}

// GetDailyBreakdown returns the existing daily rows of the last days days, newest first.
func (t *Tracker) GetDailyBreakdown(ctx context.Context, guildID snowflake.ID, days int) ([]*types.DailyStat, error) {
	return t.stats.DailyBreakdown(ctx, guildID, days)
}

// RecentEvents returns the guild's latest member events, newest first.
func (t *Tracker) RecentEvents(ctx context.Context, guildID snowflake.ID, limit int) ([]*types.MemberEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	return t.events.ListEvents(ctx, guildID, min(limit, MaxHistoryLimit))
}

// ScheduleReport schedules the guild's report job directly, bypassing the stored config.
func (t *Tracker) ScheduleReport(guildID snowflake.ID, reportTime, timezone string) error {
	return t.scheduler.ScheduleReport(guildID, reportTime, timezone)
}

// RefreshGuildScheduler re-derives the guild's jobs from its stored config.
func (t *Tracker) RefreshGuildScheduler(ctx context.Context, guildID snowflake.ID) error {
	return t.scheduler.Refresh(ctx, guildID)
}
