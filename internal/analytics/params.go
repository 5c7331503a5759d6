// Package analytics turns the append-only event log into derived read models:
// overview counts with period deltas, daily time series, dimension breakdowns,
// funnel conversion, retention cohorts, and revenue attribution. Every query
// is scoped to a single site and a half-open UTC window; callers are expected
// to have resolved ownership before reaching this layer.
package analytics

import (
	"sitepulse/internal/timeframe"
)

// Result-count limits for breakdown-style queries.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// QueryParams carries the tenant scope and time window shared by every read
// query in this package.
type QueryParams struct {
	TimeFrame *timeframe.TimeFrame
	SiteID    uint
	Limit     int
}

// NewQueryParams creates query params with the default result limit.
func NewQueryParams(tf *timeframe.TimeFrame, siteID uint) QueryParams {
	return QueryParams{
		TimeFrame: tf,
		SiteID:    siteID,
		Limit:     DefaultLimit,
	}
}

// EffectiveLimit clamps the requested limit into [1, MaxLimit], falling back
// to the default when unset.
func (p QueryParams) EffectiveLimit() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	if p.Limit > MaxLimit {
		return MaxLimit
	}
	return p.Limit
}
