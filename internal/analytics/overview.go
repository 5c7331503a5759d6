package analytics

import (
	"fmt"
	"math"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/timeframe"
)

// MetricWithDelta pairs a current-window value with its percent change
// against the window of equal length immediately before it.
type MetricWithDelta struct {
	Value int64   `json:"value"`
	Delta float64 `json:"delta"`
}

// Overview holds the headline pageview-scoped counts for one window.
type Overview struct {
	UniqueVisitors MetricWithDelta `json:"unique_visitors"`
	Pageviews      MetricWithDelta `json:"pageviews"`
	Sessions       MetricWithDelta `json:"sessions"`
	ActiveDays     MetricWithDelta `json:"active_days"`
}

// overviewCounts is one window's worth of raw counts.
type overviewCounts struct {
	UniqueVisitors int64
	Pageviews      int64
	Sessions       int64
	ActiveDays     int64
}

// Delta returns the percent change from previous to current, rounded to one
// decimal. A zero previous value reports 0 rather than a division error:
// "no baseline" reads as flat, not as infinite growth.
func Delta(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return math.Round((current-previous)/previous*1000) / 10
}

// GetOverview computes the overview for the params window together with
// deltas against the immediately preceding window of the same length.
func GetOverview(db *gorm.DB, params QueryParams) (*Overview, error) {
	current, err := overviewCountsInWindow(db, params.SiteID, params.TimeFrame)
	if err != nil {
		return nil, err
	}

	previous, err := overviewCountsInWindow(db, params.SiteID, params.TimeFrame.Previous())
	if err != nil {
		return nil, err
	}

	return &Overview{
		UniqueVisitors: MetricWithDelta{
			Value: current.UniqueVisitors,
			Delta: Delta(float64(current.UniqueVisitors), float64(previous.UniqueVisitors)),
		},
		Pageviews: MetricWithDelta{
			Value: current.Pageviews,
			Delta: Delta(float64(current.Pageviews), float64(previous.Pageviews)),
		},
		Sessions: MetricWithDelta{
			Value: current.Sessions,
			Delta: Delta(float64(current.Sessions), float64(previous.Sessions)),
		},
		ActiveDays: MetricWithDelta{
			Value: current.ActiveDays,
			Delta: Delta(float64(current.ActiveDays), float64(previous.ActiveDays)),
		},
	}, nil
}

// overviewCountsInWindow fetches all four overview counts in a single scan of
// the window's pageviews. An empty window yields zeros, never an error.
func overviewCountsInWindow(db *gorm.DB, siteID uint, tf *timeframe.TimeFrame) (overviewCounts, error) {
	var counts overviewCounts

	query := `
    SELECT
        COUNT(DISTINCT visitor_id) AS unique_visitors,
        COUNT(*) AS pageviews,
        COUNT(DISTINCT session_id) AS sessions,
        COUNT(DISTINCT strftime('%Y-%m-%d', timestamp)) AS active_days
    FROM events
    WHERE site_id = ?
    AND event_type = ?
    AND timestamp >= ? AND timestamp < ?
    `

	err := db.Raw(query,
		siteID,
		events.EventTypePageView,
		tf.From.UTC(),
		tf.To.UTC(),
	).Scan(&counts).Error
	if err != nil {
		return counts, fmt.Errorf("error computing overview counts: %w", err)
	}

	return counts, nil
}
