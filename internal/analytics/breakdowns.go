package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"sitepulse/internal/events"
)

// Dimension labels accepted by GetBreakdown.
const (
	DimensionPath       = "path"
	DimensionSource     = "source"
	DimensionDeviceType = "device_type"
	DimensionBrowser    = "browser"
	DimensionOS         = "os"
	DimensionCountry    = "country"
)

// dimensionColumns maps single-column dimensions to their events column.
// Queries only ever interpolate values from this map, never caller input.
var dimensionColumns = map[string]string{
	DimensionPath:       "path",
	DimensionDeviceType: "device_type",
	DimensionBrowser:    "browser",
	DimensionOS:         "operating_system",
	DimensionCountry:    "country",
}

// InvalidDimensionError is returned for breakdown dimensions outside the
// supported set.
type InvalidDimensionError struct {
	Dimension string
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("invalid breakdown dimension %q", e.Dimension)
}

// NewInvalidDimensionError creates an InvalidDimensionError for the label.
func NewInvalidDimensionError(dimension string) *InvalidDimensionError {
	return &InvalidDimensionError{Dimension: dimension}
}

// BreakdownRow is one grouped slice of the requested dimension. Medium is
// only populated for the source dimension, which groups by the pair.
type BreakdownRow struct {
	Name     string `json:"name"`
	Medium   string `json:"medium,omitempty"`
	Visitors int64  `json:"visitors"`
}

// GetBreakdown groups the window's pageviews by the requested dimension and
// orders by distinct-visitor count descending.
func GetBreakdown(db *gorm.DB, params QueryParams, dimension string) ([]BreakdownRow, error) {
	if dimension == DimensionSource {
		return sourceBreakdown(db, params)
	}

	column, ok := dimensionColumns[dimension]
	if !ok {
		return nil, NewInvalidDimensionError(dimension)
	}
	return columnBreakdown(db, params, column)
}

// columnBreakdown handles every single-column dimension.
func columnBreakdown(db *gorm.DB, params QueryParams, column string) ([]BreakdownRow, error) {
	var rawResults []struct {
		Name     string
		Visitors int64
	}

	query := fmt.Sprintf(`
    SELECT
        %s AS name,
        COUNT(DISTINCT visitor_id) AS visitors
    FROM events
    WHERE site_id = ?
    AND event_type = ?
    AND timestamp >= ? AND timestamp < ?
    GROUP BY %s
    ORDER BY visitors DESC, name ASC
    LIMIT ?
    `, column, column)

	err := db.Raw(query,
		params.SiteID,
		events.EventTypePageView,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
		params.EffectiveLimit(),
	).Scan(&rawResults).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching %s breakdown: %w", column, err)
	}

	results := make([]BreakdownRow, len(rawResults))
	for i, r := range rawResults {
		results[i] = BreakdownRow{Name: r.Name, Visitors: r.Visitors}
	}

	return results, nil
}

// sourceBreakdown groups by the classified (source, medium) pair so the same
// source arriving through different mediums stays distinguishable.
func sourceBreakdown(db *gorm.DB, params QueryParams) ([]BreakdownRow, error) {
	var rawResults []struct {
		Name     string
		Medium   string
		Visitors int64
	}

	query := `
    SELECT
        source AS name,
        medium AS medium,
        COUNT(DISTINCT visitor_id) AS visitors
    FROM events
    WHERE site_id = ?
    AND event_type = ?
    AND timestamp >= ? AND timestamp < ?
    GROUP BY source, medium
    ORDER BY visitors DESC, name ASC
    LIMIT ?
    `

	err := db.Raw(query,
		params.SiteID,
		events.EventTypePageView,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
		params.EffectiveLimit(),
	).Scan(&rawResults).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching source breakdown: %w", err)
	}

	results := make([]BreakdownRow, len(rawResults))
	for i, r := range rawResults {
		results[i] = BreakdownRow{Name: r.Name, Medium: r.Medium, Visitors: r.Visitors}
	}

	return results, nil
}
