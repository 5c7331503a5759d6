package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/timeframe"
)

// TimeSeriesPoint is one UTC calendar day of a site's pageview activity.
type TimeSeriesPoint struct {
	Date      string `json:"date"`
	Visitors  int64  `json:"visitors"`
	Pageviews int64  `json:"pageviews"`
	Sessions  int64  `json:"sessions"`
}

// GetTimeSeries returns one point per calendar day in the window, ascending.
// Days without events are present with zero counts: the grouped query result
// is joined against the window's generated day spine, so gaps never collapse.
func GetTimeSeries(db *gorm.DB, params QueryParams) ([]TimeSeriesPoint, error) {
	var rows []TimeSeriesPoint

	dayExpr := timeframe.SQLiteDayExpression("timestamp")
	query := fmt.Sprintf(`
    SELECT
        %s AS date,
        COUNT(DISTINCT visitor_id) AS visitors,
        COUNT(*) AS pageviews,
        COUNT(DISTINCT session_id) AS sessions
    FROM events
    WHERE site_id = ?
    AND event_type = ?
    AND timestamp >= ? AND timestamp < ?
    GROUP BY %s
    ORDER BY date ASC
    `, dayExpr, dayExpr)

	err := db.Raw(query,
		params.SiteID,
		events.EventTypePageView,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching daily series: %w", err)
	}

	byDay := make(map[string]TimeSeriesPoint, len(rows))
	for _, row := range rows {
		byDay[row.Date] = row
	}

	days := params.TimeFrame.DayBuckets()
	series := make([]TimeSeriesPoint, len(days))
	for i, day := range days {
		point := byDay[day]
		point.Date = day
		series[i] = point
	}

	return series, nil
}
