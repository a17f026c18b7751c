package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/sqlite"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const guildID = snowflake.ID(123456789012345678)

func setupTest(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(context.Background(), &config.SQLite{
		Path:        filepath.Join(t.TempDir(), "jointracker.db"),
		PoolSize:    4,
		BusyTimeout: 5000,
	}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func newEvent(eventType types.EventType, userID snowflake.ID, at time.Time) *types.MemberEvent {
	return &types.MemberEvent{
		GuildID:   guildID,
		UserID:    userID,
		Username:  "user",
		EventType: eventType,
		Timestamp: at,
	}
}

func TestConfigStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	defaults := types.GuildDefaults{ReportTime: "09:30", Timezone: "Europe/Berlin"}

	t.Run("missing config", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		_, err := store.Config().Get(ctx, guildID)
		require.ErrorIs(t, err, types.ErrGuildConfigNotFound)
	})

	t.Run("first save starts from defaults", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		channelID := snowflake.ID(42)
		saved, err := store.Config().Save(ctx, guildID, &types.GuildConfigUpdate{
			ReportChannelID: &channelID,
		}, defaults)
		require.NoError(t, err)

		assert.Equal(t, channelID, saved.ReportChannelID)
		assert.Equal(t, "09:30", saved.ReportTime)
		assert.Equal(t, "Europe/Berlin", saved.Timezone)
		assert.True(t, saved.Enabled)

		got, err := store.Config().Get(ctx, guildID)
		require.NoError(t, err)
		assert.Equal(t, saved.ReportChannelID, got.ReportChannelID)
		assert.Equal(t, saved.ReportTime, got.ReportTime)
		assert.Empty(t, got.NotifyEndpoint)
	})

	t.Run("partial update keeps other fields", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		channelID := snowflake.ID(42)
		endpoint := "https://hooks.example.com/abc"
		_, err := store.Config().Save(ctx, guildID, &types.GuildConfigUpdate{
			ReportChannelID: &channelID,
			NotifyEndpoint:  &endpoint,
		}, defaults)
		require.NoError(t, err)

		enabled := false
		_, err = store.Config().Save(ctx, guildID, &types.GuildConfigUpdate{Enabled: &enabled}, defaults)
		require.NoError(t, err)

		got, err := store.Config().Get(ctx, guildID)
		require.NoError(t, err)
		assert.False(t, got.Enabled)
		assert.Equal(t, channelID, got.ReportChannelID)
		assert.Equal(t, endpoint, got.NotifyEndpoint)
		assert.Equal(t, "09:30", got.ReportTime)
	})

	t.Run("list is ordered by guild", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		for _, id := range []snowflake.ID{30, 10, 20} {
			_, err := store.Config().Save(ctx, id, &types.GuildConfigUpdate{}, defaults)
			require.NoError(t, err)
		}

		configs, err := store.Config().List(ctx)
		require.NoError(t, err)
		require.Len(t, configs, 3)
		assert.Equal(t, snowflake.ID(10), configs[0].GuildID)
		assert.Equal(t, snowflake.ID(20), configs[1].GuildID)
		assert.Equal(t, snowflake.ID(30), configs[2].GuildID)
	})
}

func TestEventStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("record increments the day", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		for i := range 3 {
			_, err := store.Events().Record(ctx, newEvent(types.EventJoin, snowflake.ID(i+1), now), "2026-03-10")
			require.NoError(t, err)
		}

		event := newEvent(types.EventLeave, 9, now)
		stat, err := store.Events().Record(ctx, event, "2026-03-10")
		require.NoError(t, err)

		assert.Equal(t, int64(3), stat.Joins)
		assert.Equal(t, int64(1), stat.Leaves)
		assert.Equal(t, int64(2), stat.Net())
		assert.NotZero(t, event.ID)
	})

	t.Run("record rejects unknown type", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		_, err := store.Events().Record(ctx, newEvent("ban", 1, now), "2026-03-10")
		require.ErrorIs(t, err, types.ErrInvalidEventType)
	})

	t.Run("concurrent records are not lost", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Events().Record(ctx, newEvent(types.EventJoin, snowflake.ID(i+1), now), "2026-03-10")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		stat, err := store.Events().GetDay(ctx, guildID, "2026-03-10")
		require.NoError(t, err)
		assert.Equal(t, int64(20), stat.Joins)

		events, err := store.Events().ListEvents(ctx, guildID, 50)
		require.NoError(t, err)
		assert.Len(t, events, 20)
	})

	t.Run("ensure day creates a zero row once", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		_, err := store.Events().GetDay(ctx, guildID, "2026-03-10")
		require.ErrorIs(t, err, types.ErrDailyStatNotFound)

		stat, err := store.Events().EnsureDay(ctx, guildID, "2026-03-10")
		require.NoError(t, err)
		assert.Zero(t, stat.Joins)
		assert.Nil(t, stat.TotalMembers)

		_, err = store.Events().Record(ctx, newEvent(types.EventJoin, 1, now), "2026-03-10")
		require.NoError(t, err)

		stat, err = store.Events().EnsureDay(ctx, guildID, "2026-03-10")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stat.Joins)
	})

	t.Run("total members overwrites and keeps counters", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		_, err := store.Events().Record(ctx, newEvent(types.EventJoin, 1, now), "2026-03-10")
		require.NoError(t, err)

		_, err = store.Events().SetTotalMembers(ctx, guildID, "2026-03-10", 100)
		require.NoError(t, err)

		stat, err := store.Events().SetTotalMembers(ctx, guildID, "2026-03-10", 105)
		require.NoError(t, err)
		require.NotNil(t, stat.TotalMembers)
		assert.Equal(t, int64(105), *stat.TotalMembers)
		assert.Equal(t, int64(1), stat.Joins)

		stat, err = store.Events().SetTotalMembers(ctx, guildID, "2026-03-11", 7)
		require.NoError(t, err)
		assert.Zero(t, stat.Joins)
		assert.Equal(t, int64(7), *stat.TotalMembers)
	})

	t.Run("range and breakdown", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		days := map[string][2]int{
			"2026-03-01": {2, 1},
			"2026-03-03": {5, 0},
			"2026-03-05": {1, 4},
			"2026-03-09": {9, 9},
		}
		for date, counts := range days {
			for i := range counts[0] {
				_, err := store.Events().Record(ctx, newEvent(types.EventJoin, snowflake.ID(i+1), now), date)
				require.NoError(t, err)
			}
			for i := range counts[1] {
				_, err := store.Events().Record(ctx, newEvent(types.EventLeave, snowflake.ID(i+1), now), date)
				require.NoError(t, err)
			}
		}

		summary, err := store.Events().Summarize(ctx, guildID, "2026-03-01", "2026-03-05")
		require.NoError(t, err)
		assert.Equal(t, int64(8), summary.Joins)
		assert.Equal(t, int64(5), summary.Leaves)
		assert.Equal(t, 3, summary.DaysWithData)

		breakdown, err := store.Events().ListDays(ctx, guildID, "2026-03-01", "2026-03-05")
		require.NoError(t, err)
		require.Len(t, breakdown, 3)
		assert.Equal(t, "2026-03-05", breakdown[0].Date)
		assert.Equal(t, "2026-03-03", breakdown[1].Date)
		assert.Equal(t, "2026-03-01", breakdown[2].Date)

		empty, err := store.Events().Summarize(ctx, guildID, "2026-02-01", "2026-02-05")
		require.NoError(t, err)
		assert.Zero(t, empty.Joins)
		assert.Zero(t, empty.DaysWithData)
	})

	t.Run("events are listed newest first", func(t *testing.T) {
		t.Parallel()

		store := setupTest(t)

		for i := range 5 {
			_, err := store.Events().Record(ctx,
				newEvent(types.EventJoin, snowflake.ID(i+1), now.Add(time.Duration(i)*time.Minute)), "2026-03-10")
			require.NoError(t, err)
		}

		events, err := store.Events().ListEvents(ctx, guildID, 3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, snowflake.ID(5), events[0].UserID)
		assert.Equal(t, snowflake.ID(3), events[2].UserID)
		assert.True(t, now.Add(4*time.Minute).Equal(events[0].Timestamp))
		assert.Equal(t, types.EventJoin, events[0].EventType)
	})
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := &config.SQLite{
		Path:        filepath.Join(t.TempDir(), "jointracker.db"),
		PoolSize:    2,
		BusyTimeout: 5000,
	}

	store, err := sqlite.Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = store.Events().Record(ctx, newEvent(types.EventJoin, 1, time.Now()), "2026-03-10")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = sqlite.Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	stat, err := store.Events().GetDay(ctx, guildID, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stat.Joins)
}
