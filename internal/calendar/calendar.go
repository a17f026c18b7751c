// Package calendar holds the timezone-aware date and time-of-day helpers shared by
// the stores, the stats service and the scheduler. Every daily bucket in the system
// is derived from Date so writers and readers always agree on what "today" means.
package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the format of the calendar day keys used for daily buckets.
const DateLayout = "2006-01-02"

// LongDateLayout is the human readable form of a calendar day.
const LongDateLayout = "Monday, January 2, 2006"

// DefaultTimezone is used whenever a guild has no timezone configured.
const DefaultTimezone = "UTC"

var (
	// ErrInvalidClock indicates a time of day that is not in 24-hour HH:MM form.
	ErrInvalidClock = errors.New("invalid time of day, expected HH:MM in 24-hour format")
	// ErrUnknownTimezone indicates a timezone name that is not a known IANA zone.
	ErrUnknownTimezone = errors.New("unknown timezone")
	// ErrInvalidDate indicates a date key that is not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")
)

var clockPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a 24-hour time of day such as "9:30" or "09:30".
// Single digit hours are accepted and normalized by String.
func ParseClock(value string) (Clock, error) {
	matches := clockPattern.FindStringSubmatch(strings.TrimSpace(value))
	if matches == nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])

	return Clock{Hour: hour, Minute: minute}, nil
}

// String returns the clock in zero padded HH:MM form.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Next returns the first instant strictly after the given instant at which the
// wall clock in loc reads c. Days where c falls into a DST gap resolve to the
// instant time.Date normalizes to.
func (c Clock) Next(after time.Time, loc *time.Location) time.Time {
	local := after.In(loc)

	for offset := range 3 {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+offset, c.Hour, c.Minute, 0, 0, loc)
		if candidate.After(after) {
			return candidate
		}
	}

	// Unreachable for valid clocks.
	return after.Add(24 * time.Hour)
}

// LoadLocation resolves an IANA timezone name. An empty name resolves to UTC.
// The process-local "Local" zone is rejected since it differs between hosts.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}

	if name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}

	return loc, nil
}

// ResolveLocation is LoadLocation with a UTC fallback for names that fail to load.
func ResolveLocation(name string) *time.Location {
	loc, err := LoadLocation(name)
	if err != nil {
		return time.UTC
	}

	return loc
}

// Date returns the calendar day of the instant in loc.
func Date(instant time.Time, loc *time.Location) string {
	return instant.In(loc).Format(DateLayout)
}

// DaysBefore returns the calendar day that lies n days before the day of the instant in loc.
// The arithmetic happens on the local calendar, so DST transitions never skip or repeat a day.
func DaysBefore(instant time.Time, loc *time.Location, n int) string {
	local := instant.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day()-n, 12, 0, 0, 0, loc)

	return day.Format(DateLayout)
}

// Window returns the inclusive [from, to] range of calendar days that ends on the
// day of the instant in loc and spans days days.
func Window(instant time.Time, loc *time.Location, days int) (string, string) {
	if days < 1 {
		days = 1
	}

	return DaysBefore(instant, loc, days-1), Date(instant, loc)
}

// ParseDate parses a calendar day key.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	return t, nil
}

// LongDate formats a calendar day key as "Monday, January 2, 2006".
// Keys that fail to parse are returned unchanged.
func LongDate(date string) string {
	t, err := ParseDate(date)
	if err != nil {
		return date
	}

	return t.Format(LongDateLayout)
}
