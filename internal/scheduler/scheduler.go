// Package scheduler keeps one daily report job and one daily snapshot job per
// tracked guild, each firing at a wall-clock time in the guild's timezone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/internal/calendar"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/scheduler/jobstatus"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStopped is returned by operations on a scheduler that has been shut down.
	ErrStopped = errors.New("scheduler is stopped")
	// ErrSkip is returned by a Runner when a fire had nothing to do.
	ErrSkip = errors.New("nothing to do")
)

// Kind is the type of a scheduled job.
type Kind string

const (
	KindReport   Kind = "report"
	KindSnapshot Kind = "snapshot"
)

// SnapshotClock is the local time the snapshot job captures the day's member total.
var SnapshotClock = calendar.Clock{Hour: 23, Minute: 59}

// Key identifies a job. At most one job exists per key.
type Key struct {
	GuildID snowflake.ID
	Kind    Kind
}

// Runner performs the work of a fired job.
type Runner interface {
	SendReport(ctx context.Context, guildID snowflake.ID) error
	// CaptureSnapshot stores the member total on the local day of at, the instant
	// the capture was due.
	CaptureSnapshot(ctx context.Context, guildID snowflake.ID, at time.Time) error
}

// ConfigSource provides the guild configs jobs are derived from.
type ConfigSource interface {
	Get(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error)
	List(ctx context.Context) ([]*types.GuildConfig, error)
}

// StatusRecorder receives the outcome of every fire.
type StatusRecorder interface {
	ReportStatus(ctx context.Context, status jobstatus.Status) error
}

// Options tunes the scheduler.
type Options struct {
	// Workers bounds the number of fires running at once.
	Workers int
	// StartupConcurrency bounds the snapshot captures StartAll runs at once.
	StartupConcurrency int
	// FireTimeout bounds a single fire.
	FireTimeout time.Duration
}

// Job describes a live job.
type Job struct {
	Key
	Clock    calendar.Clock
	Location *time.Location
	NextRun  time.Time
}

// job is the registry entry of a live job. Its fields are guarded by Scheduler.mu.
type job struct {
	key     Key
	clock   calendar.Clock
	loc     *time.Location
	next    time.Time
	timer   clockwork.Timer
	stopped bool
}

// Scheduler owns the timer registry. All mutation goes through its methods.
type Scheduler struct {
	configs ConfigSource
	runner  Runner
	clock   clockwork.Clock
	status  StatusRecorder
	tracer  trace.Tracer
	logger  *zap.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	pool   *pool.Pool

	// dispatchMu orders pool submissions before the pool is drained on shutdown.
	dispatchMu sync.RWMutex

	// guildMu holds one lock per guild so a config read and the jobs derived from
	// it are applied as a unit.
	guildMu    sync.Mutex
	guildLocks map[snowflake.ID]*sync.Mutex

	mu     sync.Mutex
	jobs   map[Key]*job
	closed bool
}

// New creates a scheduler. The status recorder may be nil.
func New(
	configs ConfigSource, runner Runner, clock clockwork.Clock, status StatusRecorder, opts Options, logger *zap.Logger,
) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.StartupConcurrency <= 0 {
		opts.StartupConcurrency = 4
	}
	if opts.FireTimeout <= 0 {
		opts.FireTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		configs: configs,
		runner:  runner,
		clock:   clock,
		status:  status,
		tracer:  otel.Tracer("scheduler"),
		logger:  logger.Named("scheduler"),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		pool:    pool.New().WithMaxGoroutines(opts.Workers),
		jobs:    make(map[Key]*job),

		guildLocks: make(map[snowflake.ID]*sync.Mutex),
	}
}

// lockGuild acquires the guild's refresh lock and returns its release.
func (s *Scheduler) lockGuild(guildID snowflake.ID) func() {
	s.guildMu.Lock()
	mu, ok := s.guildLocks[guildID]
	if !ok {
		mu = &sync.Mutex{}
		s.guildLocks[guildID] = mu
	}
	s.guildMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ScheduleReport (re)schedules the guild's report job at reportTime in timezone.
func (s *Scheduler) ScheduleReport(guildID snowflake.ID, reportTime, timezone string) error {
	clock, err := calendar.ParseClock(reportTime)
	if err != nil {
		return err
	}

	loc, err := calendar.LoadLocation(timezone)
	if err != nil {
		return err
	}

	return s.schedule(Key{GuildID: guildID, Kind: KindReport}, clock, loc)
}

// ScheduleSnapshot (re)schedules the guild's snapshot job at 23:59 in timezone.
func (s *Scheduler) ScheduleSnapshot(guildID snowflake.ID, timezone string) error {
	loc, err := calendar.LoadLocation(timezone)
	if err != nil {
		return err
	}

	return s.schedule(Key{GuildID: guildID, Kind: KindSnapshot}, SnapshotClock, loc)
}

// schedule replaces any job under key with a new one.
func (s *Scheduler) schedule(key Key, clock calendar.Clock, loc *time.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopped
	}

	if old, ok := s.jobs[key]; ok {
		s.cancelLocked(old)
	}

	now := s.clock.Now()
	j := &job{
		key:   key,
		clock: clock,
		loc:   loc,
		next:  clock.Next(now, loc),
	}
	j.timer = s.clock.AfterFunc(j.next.Sub(now), func() { s.fire(j) })

	s.jobs[key] = j
	metricJobs.WithLabelValues(string(key.Kind)).Inc()

	s.logger.Debug("Scheduled job",
		zap.Uint64("guildID", uint64(key.GuildID)),
		zap.String("kind", string(key.Kind)),
		zap.String("time", clock.String()),
		zap.String("timezone", loc.String()),
		zap.Time("nextRun", j.next))

	return nil
}

// Stop removes the guild's job of the given kind. No fire of it starts after Stop returns.
func (s *Scheduler) Stop(guildID snowflake.ID, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[Key{GuildID: guildID, Kind: kind}]; ok {
		s.cancelLocked(j)

		s.logger.Debug("Stopped job",
			zap.Uint64("guildID", uint64(guildID)),
			zap.String("kind", string(kind)))
	}
}

// cancelLocked stops the job's timer and removes it from the registry.
func (s *Scheduler) cancelLocked(j *job) {
	j.stopped = true
	j.timer.Stop()

	if s.jobs[j.key] == j {
		delete(s.jobs, j.key)
		metricJobs.WithLabelValues(string(j.key.Kind)).Dec()
	}
}

// Refresh re-derives the guild's jobs from its stored config. The snapshot job runs
// for every tracked guild, while the report job only runs when reports are enabled
// and a destination is set. A guild without a config has no jobs. Refreshes of the
// same guild run one at a time, so the last one to finish applies the newest config.
func (s *Scheduler) Refresh(ctx context.Context, guildID snowflake.ID) error {
	unlock := s.lockGuild(guildID)
	defer unlock()

	cfg, err := s.configs.Get(ctx, guildID)
	if err != nil {
		if errors.Is(err, types.ErrGuildConfigNotFound) {
			s.Stop(guildID, KindReport)
			s.Stop(guildID, KindSnapshot)
			return nil
		}

		return fmt.Errorf("failed to load guild config: %w", err)
	}

	_, err = s.apply(cfg)

	return err
}

// apply schedules the jobs cfg calls for and reports whether a report job is live.
func (s *Scheduler) apply(cfg *types.GuildConfig) (bool, error) {
	if err := s.ScheduleSnapshot(cfg.GuildID, cfg.Timezone); err != nil {
		s.Stop(cfg.GuildID, KindReport)
		return false, fmt.Errorf("failed to schedule snapshot: %w", err)
	}

	if !cfg.ReportsEnabled() {
		s.Stop(cfg.GuildID, KindReport)
		return false, nil
	}

	if err := s.ScheduleReport(cfg.GuildID, cfg.ReportTime, cfg.Timezone); err != nil {
		s.Stop(cfg.GuildID, KindReport)
		return false, fmt.Errorf("failed to schedule report: %w", err)
	}

	return true, nil
}

// applyListed applies a config taken from a listing. The config is read again under
// the guild's lock so a refresh that finished after the listing is not undone.
func (s *Scheduler) applyListed(ctx context.Context, listed *types.GuildConfig) (bool, error) {
	unlock := s.lockGuild(listed.GuildID)
	defer unlock()

	cfg, err := s.configs.Get(ctx, listed.GuildID)
	switch {
	case errors.Is(err, types.ErrGuildConfigNotFound):
		return false, fmt.Errorf("guild config was removed: %w", err)
	case err != nil:
		cfg = listed
	}

	return s.apply(cfg)
}

// StartAll schedules the jobs of every tracked guild and then captures one snapshot
// per guild so a report sent before the first 23:59 boundary has a member total.
// It returns the number of guilds whose jobs were started.
func (s *Scheduler) StartAll(ctx context.Context) (int, error) {
	configs, err := s.configs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list guild configs: %w", err)
	}

	started := make([]snowflake.ID, 0, len(configs))
	reports := 0

	for _, cfg := range configs {
		hasReport, err := s.applyListed(ctx, cfg)
		if err != nil {
			if errors.Is(err, ErrStopped) {
				return len(started), err
			}

			s.logger.Error("Failed to start guild jobs",
				zap.Uint64("guildID", uint64(cfg.GuildID)),
				zap.Error(err))

			continue
		}

		started = append(started, cfg.GuildID)
		if hasReport {
			reports++
		}
	}

	s.logger.Info("Started scheduled jobs",
		zap.Int("guilds", len(started)),
		zap.Int("reports", reports))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.StartupConcurrency)

	for _, guildID := range started {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gCtx, s.opts.FireTimeout)
			defer cancel()

			if err := s.runner.CaptureSnapshot(ctx, guildID, s.clock.Now()); err != nil && !errors.Is(err, ErrSkip) {
				s.logger.Warn("Startup snapshot failed",
					zap.Uint64("guildID", uint64(guildID)),
					zap.Error(err))
			}

			return nil
		})
	}

	_ = g.Wait()

	return len(started), nil
}

// Jobs returns the live jobs ordered by guild and kind.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, Job{
			Key:      j.key,
			Clock:    j.clock,
			Location: j.loc,
			NextRun:  j.next,
		})
	}

	slices.SortFunc(jobs, func(a, b Job) int {
		switch {
		case a.GuildID < b.GuildID:
			return -1
		case a.GuildID > b.GuildID:
			return 1
		case a.Kind < b.Kind:
			return -1
		case a.Kind > b.Kind:
			return 1
		}
		return 0
	})

	return jobs
}

// StopAll stops every job and waits for in-flight fires to finish. When ctx ends
// first, in-flight fires are canceled. The scheduler cannot be restarted.
func (s *Scheduler) StopAll(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.closed = true
	for _, j := range s.jobs {
		s.cancelLocked(j)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.dispatchMu.Lock()
		s.pool.Wait()
		s.dispatchMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached, canceling in-flight jobs")
		s.cancel()
		<-done
	}

	s.cancel()
	s.logger.Info("Scheduler stopped")
}

// fire runs on the clock's timer goroutine. It re-arms the job for its next day
// before handing the work to the pool, so a slow fire never delays the next one.
func (s *Scheduler) fire(j *job) {
	s.mu.Lock()
	if s.closed || j.stopped || s.jobs[j.key] != j {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	scheduledFor := j.next
	j.next = j.clock.Next(now, j.loc)
	j.timer = s.clock.AfterFunc(j.next.Sub(now), func() { s.fire(j) })
	next := j.next
	s.mu.Unlock()

	s.dispatchMu.RLock()
	defer s.dispatchMu.RUnlock()

	if s.isClosed() {
		return
	}

	s.pool.Go(func() {
		s.run(j, scheduledFor, next)
	})
}

// run executes one fire on a pool worker.
func (s *Scheduler) run(j *job, scheduledFor, next time.Time) {
	runID := uuid.NewString()
	start := s.clock.Now()
	logger := s.logger.With(
		zap.Uint64("guildID", uint64(j.key.GuildID)),
		zap.String("kind", string(j.key.Kind)),
		zap.String("runID", runID))

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.FireTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scheduler.fire", trace.WithAttributes(
		attribute.Int64("guild.id", int64(j.key.GuildID)),
		attribute.String("job.kind", string(j.key.Kind)),
		attribute.String("job.run_id", runID),
	))
	defer span.End()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			logger.Error("Recovered from job panic", zap.Any("panic", r), zap.Stack("stack"))
		}

		s.finish(ctx, j, runID, scheduledFor, next, start, err, logger, span)
	}()

	// Stopped or replaced after it was dispatched
	if !s.isCurrent(j) {
		err = ErrSkip
		return
	}

	switch j.key.Kind {
	case KindReport:
		err = s.runner.SendReport(ctx, j.key.GuildID)
	case KindSnapshot:
		err = s.runner.CaptureSnapshot(ctx, j.key.GuildID, scheduledFor)
	}
}

// finish records the outcome of a fire.
func (s *Scheduler) finish(
	ctx context.Context, j *job, runID string, scheduledFor, next, start time.Time,
	err error, logger *zap.Logger, span trace.Span,
) {
	duration := s.clock.Since(start)
	outcome := jobstatus.OutcomeSuccess

	switch {
	case errors.Is(err, ErrSkip):
		outcome = jobstatus.OutcomeSkipped
		logger.Info("Job had nothing to do", zap.Error(err))
	case err != nil:
		outcome = jobstatus.OutcomeFailure
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Job failed", zap.Error(err), zap.Time("nextRun", next))
	default:
		logger.Debug("Job finished", zap.Duration("duration", duration), zap.Time("nextRun", next))
	}

	metricFires.WithLabelValues(string(j.key.Kind), outcome).Inc()
	metricFireDuration.WithLabelValues(string(j.key.Kind)).Observe(duration.Seconds())

	if s.status == nil {
		return
	}

	status := jobstatus.Status{
		GuildID:  uint64(j.key.GuildID),
		Kind:     string(j.key.Kind),
		RunID:    runID,
		LastRun:  scheduledFor,
		NextRun:  next,
		Duration: duration,
		Outcome:  outcome,
	}
	if err != nil {
		status.Error = err.Error()
	}

	// The fire context may already be spent
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.status.ReportStatus(statusCtx, status); err != nil {
		logger.Warn("Failed to record job status", zap.Error(err))
	}
}

func (s *Scheduler) isCurrent(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.closed && !j.stopped && s.jobs[j.key] == j
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
