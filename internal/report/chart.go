package report

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/jointracker/internal/calendar"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrWindowTooShort indicates a chart window of fewer than two days.
var ErrWindowTooShort = errors.New("chart window must span at least two days")

// Chart dimensions and styling constants control the visual appearance
// of the breakdown chart.
const (
	// titleFontSize sets the size of the chart title text.
	titleFontSize = 12.0
	// axisFontSize sets the size of axis labels.
	axisFontSize = 10.0
	// xAxisRotation angles x-axis labels to prevent overlap.
	xAxisRotation = 45.0
	// gridLineWidth controls the thickness of grid lines.
	gridLineWidth = 1.0
	// seriesLineWidth controls the thickness of data lines.
	seriesLineWidth = 3.0
	// seriesDotWidth controls the size of data points.
	seriesDotWidth = 4.0
	// padding adds space around the chart.
	padding = 25
)

// ChartBuilder draws the daily joins and leaves of a window of days.
type ChartBuilder struct {
	stats map[string]*types.DailyStat
	dates []string
}

// NewChartBuilder prepares a chart of the days days ending on the day of now in loc.
// Days absent from the breakdown are drawn as zero.
func NewChartBuilder(breakdown []*types.DailyStat, days int, loc *time.Location, now time.Time) *ChartBuilder {
	stats := make(map[string]*types.DailyStat, len(breakdown))
	for _, stat := range breakdown {
		stats[stat.Date] = stat
	}

	dates := make([]string, 0, days)
	for i := days - 1; i >= 0; i-- {
		dates = append(dates, calendar.DaysBefore(now, loc, i))
	}

	return &ChartBuilder{
		stats: stats,
		dates: dates,
	}
}

// Build renders the chart to PNG.
func (b *ChartBuilder) Build() (*bytes.Buffer, error) {
	if len(b.dates) < 2 {
		return nil, ErrWindowTooShort
	}

	xValues, joinSeries, leaveSeries, maxValue := b.prepareDataSeries()

	graph := &chart.Chart{
		Title:      fmt.Sprintf("Joins and Leaves (%d days)", len(b.dates)),
		TitleStyle: chart.Style{FontSize: titleFontSize},
		Background: chart.Style{
			Padding: chart.Box{Top: padding, Left: padding, Right: padding, Bottom: padding},
		},
		XAxis: b.getXAxis(),
		YAxis: b.getYAxis(maxValue),
		Series: []chart.Series{
			b.createSeries("Joins", xValues, joinSeries, chart.ColorGreen),
			b.createSeries("Leaves", xValues, leaveSeries, chart.ColorRed),
		},
	}

	graph.Elements = []chart.Renderable{
		chart.Legend(graph),
	}

	buf := new(bytes.Buffer)
	if err := graph.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	return buf, nil
}

// prepareDataSeries extracts one point per day, oldest first.
func (b *ChartBuilder) prepareDataSeries() ([]float64, []float64, []float64, float64) {
	xValues := make([]float64, len(b.dates))
	joinSeries := make([]float64, len(b.dates))
	leaveSeries := make([]float64, len(b.dates))
	maxValue := 1.0

	for i, date := range b.dates {
		xValues[i] = float64(i)

		if stat, exists := b.stats[date]; exists {
			joinSeries[i] = float64(stat.Joins)
			leaveSeries[i] = float64(stat.Leaves)
			maxValue = max(maxValue, joinSeries[i], leaveSeries[i])
		}
	}

	return xValues, joinSeries, leaveSeries, maxValue
}

// getXAxis labels every day with its month and day.
func (b *ChartBuilder) getXAxis() chart.XAxis {
	gridLines := make([]chart.GridLine, len(b.dates))
	ticks := make([]chart.Tick, len(b.dates))

	for i, date := range b.dates {
		gridLines[i] = chart.GridLine{Value: float64(i)}

		label := date
		if t, err := calendar.ParseDate(date); err == nil {
			label = t.Format("Jan 2")
		}

		ticks[i] = chart.Tick{Value: float64(i), Label: label}
	}

	return chart.XAxis{
		Style: chart.Style{
			FontSize:            axisFontSize,
			TextRotationDegrees: xAxisRotation,
		},
		GridMajorStyle: chart.Style{
			StrokeColor: chart.ColorAlternateGray,
			StrokeWidth: gridLineWidth,
		},
		GridLines:    gridLines,
		Ticks:        ticks,
		TickPosition: chart.TickPositionUnderTick,
	}
}

// getYAxis pins the range at zero so an idle window still renders.
func (b *ChartBuilder) getYAxis(maxValue float64) chart.YAxis {
	return chart.YAxis{
		Style: chart.Style{FontSize: axisFontSize},
		GridMajorStyle: chart.Style{
			StrokeColor: chart.ColorAlternateGray,
			StrokeWidth: gridLineWidth,
		},
		Range: &chart.ContinuousRange{Min: 0, Max: maxValue},
		ValueFormatter: func(v any) string {
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%.0f", f)
			}
			return ""
		},
	}
}

// createSeries builds a line series for the chart.
func (b *ChartBuilder) createSeries(name string, xValues, yValues []float64, color drawing.Color) chart.Series {
	return chart.ContinuousSeries{
		Name:    name,
		XValues: xValues,
		YValues: yValues,
		Style: chart.Style{
			StrokeColor: color,
			StrokeWidth: seriesLineWidth,
			DotColor:    color,
			DotWidth:    seriesDotWidth,
		},
	}
}

// Dates returns the days covered by the chart, oldest first.
func (b *ChartBuilder) Dates() []string {
	return b.dates
}
