// Package timeframe provides the trailing query windows used by every
// aggregation: half-open [From, To) intervals in UTC, a generated calendar-day
// spine for gap-free time series, and the Monday-start week math used by
// retention cohorts.
package timeframe

import (
	"fmt"
	"time"
)

// Period labels accepted by the query API.
const (
	Period7d  = "7d"
	Period30d = "30d"
	Period90d = "90d"

	DefaultPeriod = Period30d
)

// DateStat is one bucket of a grouped count query, keyed by the SQLite
// bucket expression output (YYYY-MM-DD for daily buckets).
type DateStat struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// InvalidPeriodError is returned for period labels outside the supported set.
type InvalidPeriodError struct {
	Period string
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid period %q: must be one of 7d, 30d, 90d", e.Period)
}

// NewInvalidPeriodError creates an InvalidPeriodError for the given label.
func NewInvalidPeriodError(period string) *InvalidPeriodError {
	return &InvalidPeriodError{Period: period}
}

// TimeFrame represents a half-open window [From, To) in UTC.
type TimeFrame struct {
	From   time.Time
	To     time.Time
	Period string
}

// PeriodDays maps a period label to its window length in days.
func PeriodDays(period string) (int, error) {
	switch period {
	case Period7d:
		return 7, nil
	case Period30d:
		return 30, nil
	case Period90d:
		return 90, nil
	default:
		return 0, NewInvalidPeriodError(period)
	}
}

// NewTrailingTimeFrame builds the trailing window for a period label, ending
// at now. An empty period falls back to the default.
func NewTrailingTimeFrame(period string, now time.Time) (*TimeFrame, error) {
	if period == "" {
		period = DefaultPeriod
	}
	days, err := PeriodDays(period)
	if err != nil {
		return nil, err
	}

	to := now.UTC()
	return &TimeFrame{
		From:   to.AddDate(0, 0, -days),
		To:     to,
		Period: period,
	}, nil
}

// NewTimeFrame builds an explicit window. Used by tests and internal callers
// that need boundaries not expressible as a trailing period.
func NewTimeFrame(from, to time.Time) (*TimeFrame, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("window start %s must be before end %s", from, to)
	}
	return &TimeFrame{From: from.UTC(), To: to.UTC()}, nil
}

// Previous returns the window of identical length immediately preceding this
// one, used for before/after delta comparisons.
func (tf *TimeFrame) Previous() *TimeFrame {
	length := tf.To.Sub(tf.From)
	return &TimeFrame{
		From:   tf.From.Add(-length),
		To:     tf.From,
		Period: tf.Period,
	}
}

// Duration returns the window length.
func (tf *TimeFrame) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}

// Contains reports whether t falls inside the half-open window.
func (tf *TimeFrame) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(tf.From) && u.Before(tf.To)
}

// DayBuckets generates the calendar-day spine of the window: one YYYY-MM-DD
// entry per UTC day touched by [From, To), ascending. The read queries
// left-join their grouped results against this spine so empty days appear
// with zero counts instead of being silently missing.
func (tf *TimeFrame) DayBuckets() []string {
	lastIncluded := tf.To.Add(-time.Nanosecond)
	if lastIncluded.Before(tf.From) {
		return nil
	}

	var days []string
	current := StartOfDay(tf.From)
	lastDay := StartOfDay(lastIncluded)
	for !current.After(lastDay) {
		days = append(days, current.Format("2006-01-02"))
		current = current.AddDate(0, 0, 1)
	}
	return days
}

// BuildDailySeries zero-fills grouped daily counts against the window's day
// spine. Output has exactly one entry per calendar day, in ascending order.
func (tf *TimeFrame) BuildDailySeries(groupedResults []DateStat) []DateStat {
	counts := make(map[string]int, len(groupedResults))
	for _, result := range groupedResults {
		counts[normalizeDayKey(result.Date)] = result.Count
	}

	days := tf.DayBuckets()
	series := make([]DateStat, len(days))
	for i, day := range days {
		series[i] = DateStat{Date: day, Count: counts[day]}
	}
	return series
}

// normalizeDayKey trims SQLite datetime output down to YYYY-MM-DD.
func normalizeDayKey(dateStr string) string {
	if len(dateStr) >= 10 {
		return dateStr[:10]
	}
	return dateStr
}

// SQLiteDayExpression returns the grouping expression bucketing a timestamp
// column into UTC calendar days.
func SQLiteDayExpression(column string) string {
	return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
}

// SQLiteWeekExpression returns the grouping expression bucketing a timestamp
// column into Monday-start weeks. SQLite's %w counts weeks from Sunday, so
// the offset shifts the origin by one day.
func SQLiteWeekExpression(column string) string {
	return fmt.Sprintf(
		"date(%s, 'start of day', '-' || ((strftime('%%w', %s) + 6) %% 7) || ' days')",
		column, column,
	)
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek truncates t to the Monday 00:00 UTC opening its calendar week.
func StartOfWeek(t time.Time) time.Time {
	u := t.UTC()
	weekday := int(u.Weekday())
	if weekday == 0 { // Sunday
		weekday = 7
	}
	daysToSubtract := weekday - 1
	return time.Date(u.Year(), u.Month(), u.Day()-daysToSubtract, 0, 0, 0, 0, time.UTC)
}

// WeeksBetween returns floor((laterWeek - earlierWeek) / 7 days) for two
// week-start times. Negative when later precedes earlier.
func WeeksBetween(earlier, later time.Time) int {
	diff := StartOfWeek(later).Sub(StartOfWeek(earlier))
	weeks := int(diff.Hours() / (24 * 7))
	return weeks
}
