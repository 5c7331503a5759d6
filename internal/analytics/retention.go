package analytics

import (
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/timeframe"
)

// RetentionWeeks is how many trailing cohort weeks the report covers.
const RetentionWeeks = 8

// CohortRow is one Monday-start cohort week: its size and the percent of the
// cohort active again N weeks later, keyed by week offset. Offset 0 is the
// cohort week itself and always reads 100.
type CohortRow struct {
	CohortWeek string      `json:"cohort_week"`
	CohortSize int64       `json:"cohort_size"`
	Retention  map[int]int `json:"retention"`
}

// retentionRow is one (cohort week, activity week) cell from the database.
type retentionRow struct {
	CohortWeek   string
	ActivityWeek string
	Retained     int64
}

// GetRetention buckets every visitor into the Monday-start UTC week of their
// first-ever event for the site, then counts how many of each cohort were
// active again in later weeks. Cohort membership is global first-seen, not
// window-scoped: a visitor who first appeared months ago never re-enters a
// newer cohort. Only cohorts from the trailing RetentionWeeks weeks are
// reported, and empty cohorts are omitted.
func GetRetention(db *gorm.DB, siteID uint, now time.Time) ([]CohortRow, error) {
	windowStart := timeframe.StartOfWeek(now).AddDate(0, 0, -7*(RetentionWeeks-1))

	query := fmt.Sprintf(`
    WITH first_seen AS (
        SELECT visitor_id, MIN(timestamp) AS first_event
        FROM events
        WHERE site_id = ?
        GROUP BY visitor_id
    ),
    cohorts AS (
        SELECT visitor_id, %s AS cohort_week
        FROM first_seen
        WHERE first_event >= ?
    )
    SELECT
        c.cohort_week AS cohort_week,
        %s AS activity_week,
        COUNT(DISTINCT e.visitor_id) AS retained
    FROM events e
    JOIN cohorts c ON c.visitor_id = e.visitor_id
    WHERE e.site_id = ?
    GROUP BY cohort_week, activity_week
    ORDER BY cohort_week ASC, activity_week ASC
    `,
		timeframe.SQLiteWeekExpression("first_event"),
		timeframe.SQLiteWeekExpression("e.timestamp"),
	)

	var rows []retentionRow
	err := db.Raw(query, siteID, windowStart, siteID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching retention cohorts: %w", err)
	}

	return assembleCohorts(rows)
}

// assembleCohorts folds the grouped cells into per-cohort retention maps and
// converts retained counts into percentages of the cohort size.
func assembleCohorts(rows []retentionRow) ([]CohortRow, error) {
	retainedByCohort := make(map[string]map[int]int64)
	var order []string

	for _, row := range rows {
		cohortStart, err := time.Parse("2006-01-02", row.CohortWeek)
		if err != nil {
			return nil, fmt.Errorf("error parsing cohort week %q: %w", row.CohortWeek, err)
		}
		activityStart, err := time.Parse("2006-01-02", row.ActivityWeek)
		if err != nil {
			return nil, fmt.Errorf("error parsing activity week %q: %w", row.ActivityWeek, err)
		}

		offset := timeframe.WeeksBetween(cohortStart, activityStart)
		if offset < 0 {
			continue
		}

		cells, ok := retainedByCohort[row.CohortWeek]
		if !ok {
			cells = make(map[int]int64)
			retainedByCohort[row.CohortWeek] = cells
			order = append(order, row.CohortWeek)
		}
		cells[offset] = row.Retained
	}

	cohorts := make([]CohortRow, 0, len(order))
	for _, week := range order {
		cells := retainedByCohort[week]

		// Every cohort member's first event lands in the cohort week, so the
		// offset-0 cell is the cohort size.
		size := cells[0]
		if size == 0 {
			continue
		}

		retention := make(map[int]int, len(cells))
		for offset, retained := range cells {
			retention[offset] = int(math.Round(float64(retained) / float64(size) * 100))
		}

		cohorts = append(cohorts, CohortRow{
			CohortWeek: week,
			CohortSize: size,
			Retention:  retention,
		})
	}

	return cohorts, nil
}
