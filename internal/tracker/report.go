package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/report"
	"github.com/robalyx/jointracker/internal/scheduler"
	"go.uber.org/zap"
)

var _ scheduler.Runner = (*Tracker)(nil)

// CheckResult is the outcome of a today check.
type CheckResult struct {
	Payload *report.Payload
	// Notified is set when the payload was pushed to the guild's webhook.
	Notified bool
	// NotifyErr holds the webhook delivery error, if any.
	NotifyErr error
}

// SendDailyReportForGuild builds yesterday's report and delivers it now, waiting
// for the delivery attempt. Errors are returned to the caller.
func (t *Tracker) SendDailyReportForGuild(ctx context.Context, guildID snowflake.ID) (*report.Payload, error) {
	cfg, err := t.configs.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}

	if !cfg.HasDestination() {
		return nil, ErrNoDestination
	}

	return t.deliverDaily(ctx, cfg)
}

// SendReport is the scheduled report fire. Guilds that lost their config or
// disabled reports since the job was scheduled are skipped.
func (t *Tracker) SendReport(ctx context.Context, guildID snowflake.ID) error {
	cfg, err := t.configs.Get(ctx, guildID)
	if err != nil {
		if errors.Is(err, types.ErrGuildConfigNotFound) {
			return fmt.Errorf("%w: guild has no config", scheduler.ErrSkip)
		}
		return err
	}

	if !cfg.ReportsEnabled() {
		return fmt.Errorf("%w: reports are disabled", scheduler.ErrSkip)
	}

	_, err = t.deliverDaily(ctx, cfg)

	return err
}

// CaptureSnapshot stores the guild's current member count on the row of the local
// day of at.
func (t *Tracker) CaptureSnapshot(ctx context.Context, guildID snowflake.ID, at time.Time) error {
	if _, err := t.configs.Get(ctx, guildID); err != nil {
		if errors.Is(err, types.ErrGuildConfigNotFound) {
			return fmt.Errorf("%w: guild has no config", scheduler.ErrSkip)
		}
		return err
	}

	if t.members == nil {
		return fmt.Errorf("%w: no member counter", scheduler.ErrSkip)
	}

	countCtx, cancel := context.WithTimeout(ctx, t.opts.DeliveryTimeout)
	defer cancel()

	count, err := t.members.MemberCount(countCtx, guildID)
	if err != nil {
		return fmt.Errorf("failed to get member count: %w", err)
	}

	stat, err := t.stats.StoreTotalMembers(ctx, guildID, at, count)
	if err != nil {
		return err
	}

	t.logger.Debug("Captured member snapshot",
		zap.Uint64("guildID", uint64(guildID)),
		zap.String("date", stat.Date),
		zap.Int64("total", count))

	return nil
}

// CheckToday builds today's stats and pushes them to the guild's webhook when one is set.
func (t *Tracker) CheckToday(ctx context.Context, guildID snowflake.ID) (*CheckResult, error) {
	loc, err := t.stats.Location(ctx, guildID)
	if err != nil {
		return nil, err
	}

	stat, err := t.stats.Today(ctx, guildID)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{
		Payload: report.BuildToday(stat, t.liveTotal(ctx, guildID, stat.TotalMembers), loc, t.clock.Now()),
	}

	cfg, err := t.configs.Get(ctx, guildID)
	if err != nil && !errors.Is(err, types.ErrGuildConfigNotFound) {
		return nil, err
	}

	if cfg == nil || cfg.NotifyEndpoint == "" {
		result.NotifyErr = ErrNoEndpoint
		return result, nil
	}

	result.NotifyErr = t.notify(ctx, guildID, cfg.NotifyEndpoint, result.Payload)
	result.Notified = result.NotifyErr == nil

	return result, nil
}

// deliverDaily builds yesterday's report for the guild and publishes it to the report
// channel, then pushes it to the webhook on a best-effort basis.
func (t *Tracker) deliverDaily(ctx context.Context, cfg *types.GuildConfig) (*report.Payload, error) {
	loc, err := t.stats.Location(ctx, cfg.GuildID)
	if err != nil {
		return nil, err
	}

	now := t.clock.Now()

	stat, err := t.stats.DayBefore(ctx, cfg.GuildID, now, loc)
	if err != nil {
		return nil, err
	}

	payload := report.BuildDaily(stat, t.liveTotal(ctx, cfg.GuildID, stat.TotalMembers), loc, now)

	publishCtx, cancel := context.WithTimeout(ctx, t.opts.DeliveryTimeout)
	defer cancel()

	err = t.publisher.PublishReport(publishCtx, cfg.ReportChannelID, payload)
	recordDelivery(sinkChannel, err)

	if err != nil {
		return payload, fmt.Errorf("failed to publish report: %w", err)
	}

	t.logger.Info("Sent daily report",
		zap.Uint64("guildID", uint64(cfg.GuildID)),
		zap.String("date", payload.Date),
		zap.Int64("net", payload.Net))

	if cfg.NotifyEndpoint != "" {
		if err := t.notify(ctx, cfg.GuildID, cfg.NotifyEndpoint, payload); err != nil {
			t.logger.Warn("Webhook delivery failed",
				zap.Uint64("guildID", uint64(cfg.GuildID)),
				zap.Error(err))
		}
	}

	return payload, nil
}

// liveTotal asks the platform for the member count and falls back to the stored
// snapshot. Nil means the total is unknown.
func (t *Tracker) liveTotal(ctx context.Context, guildID snowflake.ID, fallback *int64) *int64 {
	if t.members == nil {
		return fallback
	}

	countCtx, cancel := context.WithTimeout(ctx, t.opts.DeliveryTimeout)
	defer cancel()

	count, err := t.members.MemberCount(countCtx, guildID)
	if err != nil {
		t.logger.Debug("Live member count unavailable, using snapshot",
			zap.Uint64("guildID", uint64(guildID)),
			zap.Error(err))

		return fallback
	}

	return &count
}

func (t *Tracker) notify(ctx context.Context, guildID snowflake.ID, endpoint string, payload *report.Payload) error {
	if t.notifier == nil {
		return ErrNoEndpoint
	}

	notifyCtx, cancel := context.WithTimeout(ctx, t.opts.DeliveryTimeout)
	defer cancel()

	err := t.notifier.Send(notifyCtx, endpoint, payload)
	recordDelivery(sinkWebhook, err)

	if err != nil {
		return fmt.Errorf("failed to notify webhook for guild %d: %w", guildID, err)
	}

	return nil
}
