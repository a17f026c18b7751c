package types

import (
	"errors"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrDailyStatNotFound = errors.New("daily stat not found")
	ErrInvalidEventType  = errors.New("invalid member event type")
)

// EventType is the kind of membership change.
type EventType string

const (
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
)

// Valid reports whether the event type is a known kind.
func (e EventType) Valid() bool {
	return e == EventJoin || e == EventLeave
}

// DailyStat is the rollup of one guild's activity on one calendar day,
// where the day is taken in the guild's timezone at write time.
type DailyStat struct {
	GuildID      snowflake.ID `bun:",pk"              json:"guildId"`
	Date         string       `bun:",pk,type:char(10)" json:"date"`
	Joins        int64        `bun:",notnull"         json:"joins"`
	Leaves       int64        `bun:",notnull"         json:"leaves"`
	TotalMembers *int64       `bun:"total_members"   json:"totalMembers,omitempty"`
}

// NewDailyStat returns a zero activity stat for the day.
func NewDailyStat(guildID snowflake.ID, date string) *DailyStat {
	return &DailyStat{
		GuildID: guildID,
		Date:    date,
	}
}

// Net is the derived member change for the day.
func (s *DailyStat) Net() int64 {
	return s.Joins - s.Leaves
}

// Increment returns the join and leave deltas for a single event of the given type.
func Increment(eventType EventType) (joins int64, leaves int64) {
	if eventType == EventJoin {
		return 1, 0
	}

	return 0, 1
}

// RangeStats is the sum of daily stats over an inclusive range of days.
type RangeStats struct {
	GuildID      snowflake.ID `json:"guildId"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	Days         int          `json:"days"`
	Joins        int64        `json:"joins"`
	Leaves       int64        `json:"leaves"`
	DaysWithData int          `json:"daysWithData"`
}

// Net is the derived member change over the range.
func (r *RangeStats) Net() int64 {
	return r.Joins - r.Leaves
}

// AverageJoins is the mean joins per day that has data.
func (r *RangeStats) AverageJoins() float64 {
	if r.DaysWithData == 0 {
		return 0
	}

	return float64(r.Joins) / float64(r.DaysWithData)
}

// AverageLeaves is the mean leaves per day that has data.
func (r *RangeStats) AverageLeaves() float64 {
	if r.DaysWithData == 0 {
		return 0
	}

	return float64(r.Leaves) / float64(r.DaysWithData)
}

// MemberEvent is an immutable audit record of a membership change.
type MemberEvent struct {
	ID        int64        `bun:",pk,autoincrement" json:"id"`
	GuildID   snowflake.ID `bun:",notnull"          json:"guildId"`
	UserID    snowflake.ID `bun:",notnull"          json:"userId"`
	Username  string       `bun:",notnull"          json:"username"`
	EventType EventType    `bun:",notnull"          json:"eventType"`
	Timestamp time.Time    `bun:",notnull"          json:"timestamp"`
}
