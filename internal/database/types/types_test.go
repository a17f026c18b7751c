package types_test

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/stretchr/testify/assert"
)

func TestNewGuildConfig(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	cfg := types.NewGuildConfig(1, types.GuildDefaults{}, now)
	assert.Equal(t, types.DefaultReportTime, cfg.ReportTime)
	assert.Equal(t, types.DefaultTimezone, cfg.Timezone)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.HasDestination())
	assert.False(t, cfg.ReportsEnabled())

	cfg = types.NewGuildConfig(1, types.GuildDefaults{ReportTime: "08:15", Timezone: "Asia/Manila"}, now)
	assert.Equal(t, "08:15", cfg.ReportTime)
	assert.Equal(t, "Asia/Manila", cfg.Timezone)
}

func TestGuildConfigUpdateApply(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	channel := snowflake.ID(42)
	disabled := false
	endpoint := "https://hooks.example.com/x"

	cfg := types.NewGuildConfig(7, types.GuildDefaults{}, created)
	update := &types.GuildConfigUpdate{ReportChannelID: &channel, NotifyEndpoint: &endpoint}
	update.Apply(cfg, updated)

	assert.Equal(t, channel, cfg.ReportChannelID)
	assert.Equal(t, endpoint, cfg.NotifyEndpoint)
	assert.Equal(t, types.DefaultReportTime, cfg.ReportTime, "unset fields stay unchanged")
	assert.True(t, cfg.ReportsEnabled())
	assert.Equal(t, updated, cfg.UpdatedAt)
	assert.Equal(t, created, cfg.CreatedAt)

	(&types.GuildConfigUpdate{Enabled: &disabled}).Apply(cfg, updated)
	assert.False(t, cfg.ReportsEnabled())
	assert.True(t, cfg.HasDestination())
}

func TestGuildConfigUpdateIsEmpty(t *testing.T) {
	t.Parallel()

	var nilUpdate *types.GuildConfigUpdate
	assert.True(t, nilUpdate.IsEmpty())
	assert.True(t, (&types.GuildConfigUpdate{}).IsEmpty())

	tz := "UTC"
	assert.False(t, (&types.GuildConfigUpdate{Timezone: &tz}).IsEmpty())
}

func TestRangeStatsAverages(t *testing.T) {
	t.Parallel()

	r := &types.RangeStats{Days: 7, Joins: 9, Leaves: 3, DaysWithData: 3}
	assert.Equal(t, int64(6), r.Net())
	assert.InDelta(t, 3.0, r.AverageJoins(), 0.0001)
	assert.InDelta(t, 1.0, r.AverageLeaves(), 0.0001)

	empty := &types.RangeStats{Days: 7}
	assert.Zero(t, empty.AverageJoins())
	assert.Zero(t, empty.AverageLeaves())
}

func TestIncrement(t *testing.T) {
	t.Parallel()

	joins, leaves := types.Increment(types.EventJoin)
	assert.Equal(t, int64(1), joins)
	assert.Zero(t, leaves)

	joins, leaves = types.Increment(types.EventLeave)
	assert.Zero(t, joins)
	assert.Equal(t, int64(1), leaves)

	assert.True(t, types.EventJoin.Valid())
	assert.False(t, types.EventType("kick").Valid())
}
