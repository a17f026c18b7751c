// Package report turns aggregated stats into delivery-neutral payloads.
// Nothing in this package performs I/O; the current time is always passed in.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/robalyx/jointracker/internal/calendar"
	"github.com/robalyx/jointracker/internal/database/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Titles of the generated payloads.
const (
	DailyTitle     = "Daily Join Report"
	TodayTitle     = "Today's Join Stats"
	YesterdayTitle = "Yesterday's Join Stats"
	RangeTitle     = "Join Stats"
)

// Field names in the order they appear in a payload.
const (
	FieldJoined       = "Joined"
	FieldLeft         = "Left"
	FieldNetChange    = "Net Change"
	FieldTotalMembers = "Total Members"
	FieldAvgJoins     = "Avg Joins/Day"
	FieldAvgLeaves    = "Avg Leaves/Day"
	FieldDaysWithData = "Days With Data"
)

// Trend is the direction of the member count over the reported period.
type Trend string

const (
	TrendPositive Trend = "positive"
	TrendNegative Trend = "negative"
	TrendNeutral  Trend = "neutral"
)

// TrendOf returns the trend for a net member change.
func TrendOf(net int64) Trend {
	switch {
	case net > 0:
		return TrendPositive
	case net < 0:
		return TrendNegative
	default:
		return TrendNeutral
	}
}

// Color returns the RGB color renderers use for the trend.
func (t Trend) Color() int {
	switch t {
	case TrendPositive:
		return 0x00ff00
	case TrendNegative:
		return 0xff0000
	case TrendNeutral:
		return 0x808080
	}
	return 0x808080
}

// Emoji returns the symbol renderers show next to the net change.
func (t Trend) Emoji() string {
	switch t {
	case TrendPositive:
		return "📈"
	case TrendNegative:
		return "📉"
	case TrendNeutral:
		return "➖"
	}
	return "➖"
}

// Field is a named value in a payload.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Payload is a rendered report ready to be handed to a delivery sink.
type Payload struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Date         string    `json:"date"`
	Timezone     string    `json:"timezone"`
	Joins        int64     `json:"joins"`
	Leaves       int64     `json:"leaves"`
	Net          int64     `json:"net"`
	TotalMembers *int64    `json:"totalMembers,omitempty"`
	Trend        Trend     `json:"trend"`
	Fields       []Field   `json:"fields"`
	Footer       string    `json:"footer"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Field returns the value of the named field and whether it is present.
func (p *Payload) Field(name string) (string, bool) {
	for _, field := range p.Fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

// BuildDaily builds the scheduled report for a closed day. A nil total omits the
// total members field.
func BuildDaily(stat *types.DailyStat, total *int64, loc *time.Location, now time.Time) *Payload {
	return buildDay(DailyTitle, stat, total, loc, now)
}

// BuildToday builds the payload of the day that is still in progress.
func BuildToday(stat *types.DailyStat, total *int64, loc *time.Location, now time.Time) *Payload {
	return buildDay(TodayTitle, stat, total, loc, now)
}

// BuildYesterday builds the on-demand view of the previous day.
func BuildYesterday(stat *types.DailyStat, total *int64, loc *time.Location, now time.Time) *Payload {
	return buildDay(YesterdayTitle, stat, total, loc, now)
}

func buildDay(title string, stat *types.DailyStat, total *int64, loc *time.Location, now time.Time) *Payload {
	p := message.NewPrinter(language.English)
	net := stat.Net()
	trend := TrendOf(net)

	fields := []Field{
		{Name: FieldJoined, Value: p.Sprintf("%d", stat.Joins), Inline: true},
		{Name: FieldLeft, Value: p.Sprintf("%d", stat.Leaves), Inline: true},
		{Name: FieldNetChange, Value: fmt.Sprintf("%s %s", trend.Emoji(), SignedNumber(p, net)), Inline: true},
	}

	if total != nil {
		fields = append(fields, Field{Name: FieldTotalMembers, Value: p.Sprintf("%d", *total), Inline: true})
	}

	return &Payload{
		Title:        title,
		Description:  calendar.LongDate(stat.Date),
		Date:         stat.Date,
		Timezone:     loc.String(),
		Joins:        stat.Joins,
		Leaves:       stat.Leaves,
		Net:          net,
		TotalMembers: total,
		Trend:        trend,
		Fields:       fields,
		Footer:       footer(loc, now),
		GeneratedAt:  now,
	}
}

// BuildRange builds the summary of a multi-day window. The breakdown lines are
// listed newest first in the description, or "No data" when there are none.
func BuildRange(summary *types.RangeStats, breakdown []*types.DailyStat, loc *time.Location, now time.Time) *Payload {
	p := message.NewPrinter(language.English)
	net := summary.Net()
	trend := TrendOf(net)

	description := p.Sprintf("%s to %s", summary.From, summary.To)
	if breakdown != nil {
		description += "\n" + Breakdown(breakdown)
	}

	return &Payload{
		Title:       fmt.Sprintf("%s (last %d days)", RangeTitle, summary.Days),
		Description: description,
		Date:        summary.To,
		Timezone:    loc.String(),
		Joins:       summary.Joins,
		Leaves:      summary.Leaves,
		Net:         net,
		Trend:       trend,
		Fields: []Field{
			{Name: FieldJoined, Value: p.Sprintf("%d", summary.Joins), Inline: true},
			{Name: FieldLeft, Value: p.Sprintf("%d", summary.Leaves), Inline: true},
			{Name: FieldNetChange, Value: fmt.Sprintf("%s %s", trend.Emoji(), SignedNumber(p, net)), Inline: true},
			{Name: FieldAvgJoins, Value: p.Sprintf("%.1f", summary.AverageJoins()), Inline: true},
			{Name: FieldAvgLeaves, Value: p.Sprintf("%.1f", summary.AverageLeaves()), Inline: true},
			{Name: FieldDaysWithData, Value: p.Sprintf("%d/%d", summary.DaysWithData, summary.Days), Inline: true},
		},
		Footer:      footer(loc, now),
		GeneratedAt: now,
	}
}

// Breakdown formats daily rows one per line in the order given.
func Breakdown(stats []*types.DailyStat) string {
	if len(stats) == 0 {
		return "No data"
	}

	p := message.NewPrinter(language.English)

	var b strings.Builder
	for i, stat := range stats {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Sprintf("`%s` +%d / -%d (%s)", stat.Date, stat.Joins, stat.Leaves, SignedNumber(p, stat.Net())))
	}

	return b.String()
}

// SignedNumber formats n with an explicit plus sign when positive.
func SignedNumber(p *message.Printer, n int64) string {
	if n > 0 {
		return p.Sprintf("+%d", n)
	}
	return p.Sprintf("%d", n)
}

func footer(loc *time.Location, now time.Time) string {
	return fmt.Sprintf("Timezone: %s • Generated %s", loc.String(), now.In(loc).Format("2006-01-02 15:04"))
}
