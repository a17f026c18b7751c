// Package jobstatus records the outcome of scheduler job fires in Redis so
// operators can see when each guild's jobs last ran and when they run next.
package jobstatus

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// keyPrefix namespaces the status records.
const keyPrefix = "jobs:"

// Outcomes of a job fire.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Status is the last known state of one guild's job.
type Status struct {
	GuildID  uint64        `json:"guildId"`
	Kind     string        `json:"kind"`
	RunID    string        `json:"runId"`
	LastRun  time.Time     `json:"lastRun"`
	NextRun  time.Time     `json:"nextRun"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Error    string        `json:"error,omitempty"`
}

// Key returns the Redis key of the status record.
func Key(kind string, guildID uint64) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, kind, guildID)
}

// Monitor handles job status reporting and querying.
type Monitor struct {
	client rueidis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewMonitor creates a new job status monitor. Records expire after ttl.
func NewMonitor(client rueidis.Client, ttl time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		client: client,
		ttl:    ttl,
		logger: logger.Named("job_status"),
	}
}

// ReportStatus stores the status, replacing the previous record for the same job.
func (m *Monitor) ReportStatus(ctx context.Context, status Status) error {
	data, err := sonic.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := Key(status.Kind, status.GuildID)
	err = m.client.Do(ctx, m.client.B().Set().Key(key).Value(string(data)).Ex(m.ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}

	return nil
}

// GetStatus returns the status of one job, or nil when there is no record.
func (m *Monitor) GetStatus(ctx context.Context, kind string, guildID uint64) (*Status, error) {
	data, err := m.client.Do(ctx, m.client.B().Get().Key(Key(kind, guildID)).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var status Status
	if err := sonic.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	return &status, nil
}

// GetAllStatuses retrieves all job statuses ordered by kind and guild.
func (m *Monitor) GetAllStatuses(ctx context.Context) ([]Status, error) {
	keys, err := m.client.Do(ctx, m.client.B().Keys().Pattern(keyPrefix+"*").Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to get job keys: %w", err)
	}

	statuses := make([]Status, 0, len(keys))

	for _, key := range keys {
		data, err := m.client.Do(ctx, m.client.B().Get().Key(key).Build()).AsBytes()
		if err != nil {
			// Expired between KEYS and GET
			if rueidis.IsRedisNil(err) {
				continue
			}
			m.logger.Error("Failed to get job status", zap.String("key", key), zap.Error(err))
			continue
		}

		var status Status
		if err := sonic.Unmarshal(data, &status); err != nil {
			m.logger.Error("Failed to unmarshal job status", zap.String("key", key), zap.Error(err))
			continue
		}

		statuses = append(statuses, status)
	}

	slices.SortFunc(statuses, func(a, b Status) int {
		if c := strings.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		switch {
		case a.GuildID < b.GuildID:
			return -1
		case a.GuildID > b.GuildID:
			return 1
		}
		return 0
	})

	return statuses, nil
}
