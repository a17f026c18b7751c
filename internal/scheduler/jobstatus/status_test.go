package jobstatus_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/jointracker/internal/scheduler/jobstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTest(t *testing.T) (*jobstatus.Monitor, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	monitor := jobstatus.NewMonitor(client, time.Hour, zap.NewNop())

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return monitor, mr, cleanup
}

func TestReportStatus(t *testing.T) {
	t.Parallel()
	monitor, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()
	lastRun := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	err := monitor.ReportStatus(ctx, jobstatus.Status{
		GuildID: 42,
		Kind:    "report",
		RunID:   "run-1",
		LastRun: lastRun,
		NextRun: lastRun.Add(24 * time.Hour),
		Outcome: jobstatus.OutcomeFailure,
		Error:   "channel not found",
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("jobs:report:42"))
	assert.Equal(t, time.Hour, mr.TTL("jobs:report:42"))

	status, err := monitor.GetStatus(ctx, "report", 42)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, jobstatus.OutcomeFailure, status.Outcome)
	assert.Equal(t, "channel not found", status.Error)
	assert.True(t, lastRun.Equal(status.LastRun))

	// A later fire replaces the record
	err = monitor.ReportStatus(ctx, jobstatus.Status{
		GuildID: 42,
		Kind:    "report",
		RunID:   "run-2",
		Outcome: jobstatus.OutcomeSuccess,
	})
	require.NoError(t, err)

	status, err = monitor.GetStatus(ctx, "report", 42)
	require.NoError(t, err)
	assert.Equal(t, "run-2", status.RunID)
	assert.Empty(t, status.Error)
}

func TestGetStatusMissing(t *testing.T) {
	t.Parallel()
	monitor, _, cleanup := setupTest(t)
	defer cleanup()

	status, err := monitor.GetStatus(t.Context(), "snapshot", 7)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestGetAllStatuses(t *testing.T) {
	t.Parallel()
	monitor, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	for _, s := range []jobstatus.Status{
		{GuildID: 30, Kind: "snapshot", Outcome: jobstatus.OutcomeSuccess},
		{GuildID: 20, Kind: "report", Outcome: jobstatus.OutcomeSuccess},
		{GuildID: 10, Kind: "report", Outcome: jobstatus.OutcomeSkipped},
	} {
		require.NoError(t, monitor.ReportStatus(ctx, s))
	}

	// Unrelated and malformed keys are ignored
	require.NoError(t, mr.Set("other:key", "value"))
	require.NoError(t, mr.Set("jobs:report:99", "not json"))

	statuses, err := monitor.GetAllStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, uint64(10), statuses[0].GuildID)
	assert.Equal(t, uint64(20), statuses[1].GuildID)
	assert.Equal(t, "snapshot", statuses[2].Kind)
}

func TestStatusExpires(t *testing.T) {
	t.Parallel()
	monitor, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	require.NoError(t, monitor.ReportStatus(ctx, jobstatus.Status{GuildID: 1, Kind: "report"}))

	mr.FastForward(2 * time.Hour)

	status, err := monitor.GetStatus(ctx, "report", 1)
	require.NoError(t, err)
	assert.Nil(t, status)
}
