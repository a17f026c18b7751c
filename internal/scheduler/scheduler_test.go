package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/internal/calendar"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/scheduler"
	"github.com/robalyx/jointracker/internal/scheduler/jobstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	guildOne = snowflake.ID(1001)
	guildTwo = snowflake.ID(1002)
	guildSix = snowflake.ID(1006)

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// configStore is an in-memory ConfigSource.
type configStore struct {
	mu      sync.Mutex
	configs map[snowflake.ID]*types.GuildConfig
	err     error
}

func newConfigStore(configs ...*types.GuildConfig) *configStore {
	store := &configStore{configs: make(map[snowflake.ID]*types.GuildConfig)}
	for _, cfg := range configs {
		store.configs[cfg.GuildID] = cfg
	}
	return store
}

func (c *configStore) Get(_ context.Context, guildID snowflake.ID) (*types.GuildConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	cfg, ok := c.configs[guildID]
	if !ok {
		return nil, types.ErrGuildConfigNotFound
	}

	clone := *cfg
	return &clone, nil
}

func (c *configStore) List(context.Context) ([]*types.GuildConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	configs := make([]*types.GuildConfig, 0, len(c.configs))
	for _, cfg := range c.configs {
		clone := *cfg
		configs = append(configs, &clone)
	}
	return configs, nil
}

func (c *configStore) set(cfg *types.GuildConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[cfg.GuildID] = cfg
}

// runner records every fire.
type runner struct {
	mu         sync.Mutex
	reports    map[snowflake.ID]int
	snapshots  map[snowflake.ID]int
	capturedAt map[snowflake.ID]time.Time
	reportErr  error
	panicOn    snowflake.ID
	block      map[snowflake.ID]chan struct{}
}

func newRunner() *runner {
	return &runner{
		reports:    make(map[snowflake.ID]int),
		snapshots:  make(map[snowflake.ID]int),
		capturedAt: make(map[snowflake.ID]time.Time),
		block:      make(map[snowflake.ID]chan struct{}),
	}
}

func (r *runner) SendReport(ctx context.Context, guildID snowflake.ID) error {
	r.mu.Lock()
	r.reports[guildID]++
	err := r.reportErr
	shouldPanic := r.panicOn == guildID
	block := r.block[guildID]
	r.mu.Unlock()

	if shouldPanic {
		panic("report exploded")
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

func (r *runner) CaptureSnapshot(_ context.Context, guildID snowflake.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[guildID]++
	r.capturedAt[guildID] = at
	return nil
}

func (r *runner) lastCapture(guildID snowflake.ID) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturedAt[guildID]
}

func (r *runner) reportCount(guildID snowflake.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[guildID]
}

func (r *runner) snapshotCount(guildID snowflake.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[guildID]
}

// statusRecorder keeps the last status per key.
type statusRecorder struct {
	mu       sync.Mutex
	statuses map[string]jobstatus.Status
}

func (s *statusRecorder) ReportStatus(_ context.Context, status jobstatus.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[jobstatus.Key(status.Kind, status.GuildID)] = status
	return nil
}

func (s *statusRecorder) get(kind scheduler.Kind, guildID snowflake.ID) (jobstatus.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[jobstatus.Key(string(kind), uint64(guildID))]
	return status, ok
}

func guildConfig(guildID snowflake.ID, reportTime, timezone string, enabled bool, channelID snowflake.ID) *types.GuildConfig {
	return &types.GuildConfig{
		GuildID:         guildID,
		ReportChannelID: channelID,
		ReportTime:      reportTime,
		Timezone:        timezone,
		Enabled:         enabled,
	}
}

type testEnv struct {
	scheduler *scheduler.Scheduler
	clock     *clockwork.FakeClock
	configs   *configStore
	runner    *runner
	status    *statusRecorder
}

func setupTest(t *testing.T, now time.Time, configs ...*types.GuildConfig) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:   clockwork.NewFakeClockAt(now),
		configs: newConfigStore(configs...),
		runner:  newRunner(),
		status:  &statusRecorder{statuses: make(map[string]jobstatus.Status)},
	}

	env.scheduler = scheduler.New(env.configs, env.runner, env.clock, env.status, scheduler.Options{
		Workers:            4,
		StartupConcurrency: 2,
		FireTimeout:        time.Second,
	}, zap.NewNop())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		env.scheduler.StopAll(ctx)
	})

	return env
}

func jobsOfKind(s *scheduler.Scheduler, guildID snowflake.ID, kind scheduler.Kind) []scheduler.Job {
	var jobs []scheduler.Job
	for _, job := range s.Jobs() {
		if job.GuildID == guildID && job.Kind == kind {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func TestScheduleReportFiresAtLocalTime(t *testing.T) {
	t.Parallel()

	// 08:00 in New York
	env := setupTest(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "09:30", "America/New_York"))

	jobs := jobsOfKind(env.scheduler, guildOne, scheduler.KindReport)
	require.Len(t, jobs, 1)
	assert.True(t, time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC).Equal(jobs[0].NextRun))

	env.clock.Advance(89 * time.Minute)
	assert.Never(t, func() bool { return env.runner.reportCount(guildOne) > 0 }, 50*time.Millisecond, tick)

	env.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return env.runner.reportCount(guildOne) == 1 }, waitFor, tick)

	// The job re-arms for the next local day
	jobs = jobsOfKind(env.scheduler, guildOne, scheduler.KindReport)
	require.Len(t, jobs, 1)
	assert.True(t, time.Date(2026, 3, 11, 13, 30, 0, 0, time.UTC).Equal(jobs[0].NextRun))

	require.Eventually(t, func() bool {
		status, ok := env.status.get(scheduler.KindReport, guildOne)
		return ok && status.Outcome == jobstatus.OutcomeSuccess
	}, waitFor, tick)
}

func TestScheduleSnapshotFiresBeforeMidnight(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, env.scheduler.ScheduleSnapshot(guildOne, "Asia/Tokyo"))

	jobs := jobsOfKind(env.scheduler, guildOne, scheduler.KindSnapshot)
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.SnapshotClock, jobs[0].Clock)

	// 23:59 in Tokyo is 14:59 UTC
	assert.True(t, time.Date(2026, 6, 1, 14, 59, 0, 0, time.UTC).Equal(jobs[0].NextRun))

	env.clock.Advance(3 * time.Hour)
	require.Eventually(t, func() bool { return env.runner.snapshotCount(guildOne) == 1 }, waitFor, tick)
	assert.Zero(t, env.runner.reportCount(guildOne))

	// The capture is bucketed by the instant it was due, not when it ran
	assert.True(t, time.Date(2026, 6, 1, 14, 59, 0, 0, time.UTC).Equal(env.runner.lastCapture(guildOne)))
}

func TestRescheduleLeavesOneJob(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "10:00", "UTC"))
	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "10:00", "UTC"))

	require.Len(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindReport), 1)

	env.clock.Advance(2 * time.Hour)
	require.Eventually(t, func() bool { return env.runner.reportCount(guildOne) == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return env.runner.reportCount(guildOne) > 1 }, 100*time.Millisecond, tick)
}

func TestRescheduleMovesTrigger(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "09:00", "UTC"))
	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "11:00", "UTC"))

	env.clock.Advance(90 * time.Minute)
	assert.Never(t, func() bool { return env.runner.reportCount(guildOne) > 0 }, 50*time.Millisecond, tick)

	env.clock.Advance(90 * time.Minute)
	require.Eventually(t, func() bool { return env.runner.reportCount(guildOne) == 1 }, waitFor, tick)
}

func TestStopPreventsFires(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "09:00", "UTC"))
	env.scheduler.Stop(guildOne, scheduler.KindReport)

	// Stopping an absent job is a no-op
	env.scheduler.Stop(guildOne, scheduler.KindReport)
	env.scheduler.Stop(guildTwo, scheduler.KindSnapshot)

	assert.Empty(t, env.scheduler.Jobs())

	env.clock.Advance(48 * time.Hour)
	assert.Never(t, func() bool { return env.runner.reportCount(guildOne) > 0 }, 100*time.Millisecond, tick)
}

func TestInvalidTriggerIsRejected(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	err := env.scheduler.ScheduleReport(guildOne, "25:00", "UTC")
	require.ErrorIs(t, err, calendar.ErrInvalidClock)

	err = env.scheduler.ScheduleReport(guildOne, "10:00", "Mars/Olympus_Mons")
	require.ErrorIs(t, err, calendar.ErrUnknownTimezone)

	err = env.scheduler.ScheduleSnapshot(guildOne, "Not/AZone")
	require.ErrorIs(t, err, calendar.ErrUnknownTimezone)

	assert.Empty(t, env.scheduler.Jobs())
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := guildConfig(guildOne, "09:30", "America/New_York", true, 55)

	env := setupTest(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), cfg)

	require.NoError(t, env.scheduler.Refresh(ctx, guildOne))
	assert.Len(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindReport), 1)
	assert.Len(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindSnapshot), 1)

	t.Run("disabled guild keeps only the snapshot", func(t *testing.T) {
		env.configs.set(guildConfig(guildOne, "09:30", "America/New_York", false, 55))

		require.NoError(t, env.scheduler.Refresh(ctx, guildOne))
		assert.Empty(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindReport))
		assert.Len(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindSnapshot), 1)
	})

	t.Run("re-enabling restores exactly one report job", func(t *testing.T) {
		env.configs.set(guildConfig(guildOne, "07:15", "Europe/London", true, 55))

		require.NoError(t, env.scheduler.Refresh(ctx, guildOne))
		require.NoError(t, env.scheduler.Refresh(ctx, guildOne))

		jobs := jobsOfKind(env.scheduler, guildOne, scheduler.KindReport)
		require.Len(t, jobs, 1)
		assert.Equal(t, "07:15", jobs[0].Clock.String())
		assert.Equal(t, "Europe/London", jobs[0].Location.String())
	})

	t.Run("missing destination stops the report", func(t *testing.T) {
		env.configs.set(guildConfig(guildOne, "07:15", "Europe/London", true, 0))

		require.NoError(t, env.scheduler.Refresh(ctx, guildOne))
		assert.Empty(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindReport))
		assert.Len(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindSnapshot), 1)
	})

	t.Run("untracked guild has no jobs", func(t *testing.T) {
		require.NoError(t, env.scheduler.Refresh(ctx, guildTwo))
		assert.Empty(t, jobsOfKind(env.scheduler, guildTwo, scheduler.KindSnapshot))
	})

	t.Run("store errors propagate", func(t *testing.T) {
		env.configs.mu.Lock()
		env.configs.err = errors.New("database is down")
		env.configs.mu.Unlock()

		err := env.scheduler.Refresh(ctx, guildOne)
		require.ErrorContains(t, err, "database is down")

		env.configs.mu.Lock()
		env.configs.err = nil
		env.configs.mu.Unlock()
	})
}

// slowConfigStore holds the first Get after reading the config until released.
type slowConfigStore struct {
	*configStore

	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (c *slowConfigStore) Get(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error) {
	cfg, err := c.configStore.Get(ctx, guildID)

	c.once.Do(func() {
		close(c.read)
		<-c.release
	})

	return cfg, err
}

func TestOverlappingRefreshAppliesNewestConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	configs := &slowConfigStore{
		configStore: newConfigStore(guildConfig(guildOne, "09:00", "UTC", true, 55)),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}

	s := scheduler.New(configs, newRunner(), clock, nil, scheduler.Options{}, zap.NewNop())
	t.Cleanup(func() { s.StopAll(context.Background()) })

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	// First refresh reads 09:00 and stalls before applying it
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- s.Refresh(ctx, guildOne)
	}()
	<-configs.read

	configs.set(guildConfig(guildOne, "10:00", "UTC", true, 55))

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- s.Refresh(ctx, guildOne)
	}()

	close(configs.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	jobs := jobsOfKind(s, guildOne, scheduler.KindReport)
	require.Len(t, jobs, 1)
	assert.Equal(t, "10:00", jobs[0].Clock.String())
	assert.True(t, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC).Equal(jobs[0].NextRun))
}

func TestStartAll(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		guildConfig(guildOne, "09:30", "America/New_York", true, 55),
		guildConfig(guildTwo, "10:00", "UTC", false, 56),
		guildConfig(guildSix, "10:00", "", true, 0),
	)

	started, err := env.scheduler.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, started)

	assert.Len(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindReport), 1)
	assert.Empty(t, jobsOfKind(env.scheduler, guildTwo, scheduler.KindReport))
	assert.Empty(t, jobsOfKind(env.scheduler, guildSix, scheduler.KindReport))

	for _, guildID := range []snowflake.ID{guildOne, guildTwo, guildSix} {
		assert.Len(t, jobsOfKind(env.scheduler, guildID, scheduler.KindSnapshot), 1)
		assert.Equal(t, 1, env.runner.snapshotCount(guildID), "startup snapshot for %d", guildID)
	}

	// An absent timezone schedules in UTC
	jobs := jobsOfKind(env.scheduler, guildSix, scheduler.KindSnapshot)
	assert.Equal(t, time.UTC, jobs[0].Location)
}

func TestFailureKeepsJobScheduled(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	env.runner.reportErr = errors.New("channel unreachable")

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "09:00", "UTC"))

	env.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return env.runner.reportCount(guildOne) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		status, ok := env.status.get(scheduler.KindReport, guildOne)
		return ok && status.Outcome == jobstatus.OutcomeFailure && status.Error == "channel unreachable"
	}, waitFor, tick)

	env.clock.Advance(24 * time.Hour)
	require.Eventually(t, func() bool { return env.runner.reportCount(guildOne) == 2 }, waitFor, tick)
	assert.Len(t, jobsOfKind(env.scheduler, guildOne, scheduler.KindReport), 1)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	env.runner.panicOn = guildOne

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "09:00", "UTC"))
	require.NoError(t, env.scheduler.ScheduleReport(guildTwo, "09:00", "UTC"))

	env.clock.Advance(time.Hour)
	require.Eventually(t, func() bool {
		return env.runner.reportCount(guildOne) == 1 && env.runner.reportCount(guildTwo) == 1
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		status, ok := env.status.get(scheduler.KindReport, guildOne)
		return ok && status.Outcome == jobstatus.OutcomeFailure
	}, waitFor, tick)

	env.clock.Advance(24 * time.Hour)
	require.Eventually(t, func() bool { return env.runner.reportCount(guildOne) == 2 }, waitFor, tick)
}

func TestSlowGuildDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	release := make(chan struct{})
	env.runner.block[guildOne] = release
	defer close(release)

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "09:00", "UTC"))
	require.NoError(t, env.scheduler.ScheduleReport(guildTwo, "09:00", "UTC"))

	env.clock.Advance(time.Hour)
	require.Eventually(t, func() bool {
		_, ok := env.status.get(scheduler.KindReport, guildTwo)
		return ok
	}, waitFor, tick)

	_, done := env.status.get(scheduler.KindReport, guildOne)
	assert.False(t, done)
}

func TestStopAll(t *testing.T) {
	t.Parallel()

	env := setupTest(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	require.NoError(t, env.scheduler.ScheduleReport(guildOne, "09:00", "UTC"))
	require.NoError(t, env.scheduler.ScheduleSnapshot(guildOne, "UTC"))

	env.scheduler.StopAll(context.Background())
	assert.Empty(t, env.scheduler.Jobs())

	err := env.scheduler.ScheduleReport(guildOne, "09:00", "UTC")
	require.ErrorIs(t, err, scheduler.ErrStopped)

	env.clock.Advance(48 * time.Hour)
	assert.Never(t, func() bool {
		return env.runner.reportCount(guildOne) > 0 || env.runner.snapshotCount(guildOne) > 0
	}, 100*time.Millisecond, tick)

	// Safe to call twice
	env.scheduler.StopAll(context.Background())
}
