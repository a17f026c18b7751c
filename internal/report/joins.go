package report

import (
	"time"

	"github.com/robalyx/jointracker/internal/calendar"
)

// JoinBreakdownDays is the number of days listed in a join history breakdown.
const JoinBreakdownDays = 7

// MemberJoin is the join date of a current guild member.
type MemberJoin struct {
	JoinedAt time.Time
	Bot      bool
}

// DayJoins is the number of current members that joined on a day.
type DayJoins struct {
	Date  string
	Joins int64
}

// JoinHistory buckets the join dates of the current members of a guild. Members
// who have left are not part of it.
type JoinHistory struct {
	Today     int64
	Yesterday int64
	Week      int64
	Month     int64
	Older     int64
	// Members counts the non-bot members, including those without a join date.
	Members int64
	// Days lists the last JoinBreakdownDays days, newest first.
	Days []DayJoins
}

// BuildJoinHistory buckets members by the local day they joined in loc. Bots are
// skipped. The week and month buckets cover the last 7 and 30 days including today.
func BuildJoinHistory(members []MemberJoin, loc *time.Location, now time.Time) *JoinHistory {
	today := calendar.Date(now, loc)
	yesterday := calendar.DaysBefore(now, loc, 1)
	weekStart, _ := calendar.Window(now, loc, 7)
	monthStart, _ := calendar.Window(now, loc, 30)

	history := &JoinHistory{Days: make([]DayJoins, JoinBreakdownDays)}

	index := make(map[string]int, JoinBreakdownDays)
	for i := range JoinBreakdownDays {
		date := calendar.DaysBefore(now, loc, i)
		history.Days[i] = DayJoins{Date: date}
		index[date] = i
	}

	for _, member := range members {
		if member.Bot {
			continue
		}

		history.Members++

		if member.JoinedAt.IsZero() {
			continue
		}

		date := calendar.Date(member.JoinedAt, loc)

		// Dates are YYYY-MM-DD so they order as strings
		switch {
		case date >= today:
			history.Today++
		case date == yesterday:
			history.Yesterday++
		}

		if date >= weekStart {
			history.Week++
		}

		if date >= monthStart {
			history.Month++
		} else {
			history.Older++
		}

		if i, ok := index[date]; ok {
			history.Days[i].Joins++
		}
	}

	return history
}
