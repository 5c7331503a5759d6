package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"sitepulse/internal/analytics"
	"sitepulse/internal/events"
	"sitepulse/internal/http/middleware"
	"sitepulse/internal/pkg/async"
	"sitepulse/internal/pkg/metrics"
	"sitepulse/internal/timeframe"
)

// statsPoolSize bounds how many aggregate queries one combined-stats request
// runs concurrently.
const statsPoolSize = 8

// errSiteScopeMissing fires when a handler registered under the site-scoping
// middleware runs without a resolved site, which means a wiring bug.
var errSiteScopeMissing = errors.New("site scope missing from request context")

// aggregationScope builds the query params for a site-scoped aggregation
// request: the site resolved by the scoping middleware plus the trailing
// window from the period query param.
func aggregationScope(ctx *cartridge.Context) (analytics.QueryParams, error) {
	return aggregationScopeWithPeriod(ctx, ctx.Query("period"))
}

func aggregationScopeWithPeriod(ctx *cartridge.Context, period string) (analytics.QueryParams, error) {
	site := middleware.CurrentSite(ctx.Ctx)
	if site == nil {
		return analytics.QueryParams{}, errSiteScopeMissing
	}

	tf, err := timeframe.NewTrailingTimeFrame(period, time.Now())
	if err != nil {
		return analytics.QueryParams{}, err
	}

	return analytics.NewQueryParams(tf, site.ID), nil
}

// scopedDB returns the request-scoped connection. Aggregations run through
// the request context so a disconnected caller aborts the query.
func scopedDB(ctx *cartridge.Context) *gorm.DB {
	return ctx.DB().WithContext(ctx.Ctx.UserContext())
}

func respondPeriodError(ctx *cartridge.Context, err error) (bool, error) {
	var invalidPeriod *timeframe.InvalidPeriodError
	if errors.As(err, &invalidPeriod) {
		return true, ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": invalidPeriod.Error(),
		})
	}
	return false, nil
}

// StatsIndexAction returns the combined dashboard payload for one site:
// overview with deltas, the daily series, and the top slices of every
// breakdown dimension, computed concurrently.
func StatsIndexAction(ctx *cartridge.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveQuery("stats", time.Since(start).Seconds()) }()

	params, err := aggregationScope(ctx)
	if err != nil {
		if handled, res := respondPeriodError(ctx, err); handled {
			return res
		}
		ctx.Logger.Error("Failed to scope stats request", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	db := scopedDB(ctx)
	tasks := []async.Task{
		{
			Name: "overview",
			Execute: func() (interface{}, error) {
				return analytics.GetOverview(db, params)
			},
		},
		{
			Name: "timeseries",
			Execute: func() (interface{}, error) {
				return analytics.GetTimeSeries(db, params)
			},
		},
		{
			Name: "top_pages",
			Execute: func() (interface{}, error) {
				return analytics.GetBreakdown(db, params, analytics.DimensionPath)
			},
		},
		{
			Name: "top_sources",
			Execute: func() (interface{}, error) {
				return analytics.GetBreakdown(db, params, analytics.DimensionSource)
			},
		},
		{
			Name: "top_countries",
			Execute: func() (interface{}, error) {
				rows, err := analytics.GetBreakdown(db, params, analytics.DimensionCountry)
				if err != nil {
					return nil, err
				}
				return displayCountryRows(rows), nil
			},
		},
		{
			Name: "top_devices",
			Execute: func() (interface{}, error) {
				rows, err := analytics.GetBreakdown(db, params, analytics.DimensionDeviceType)
				if err != nil {
					return nil, err
				}
				return displayTitledRows(rows, events.UnknownDevice), nil
			},
		},
		{
			Name: "top_browsers",
			Execute: func() (interface{}, error) {
				return analytics.GetBreakdown(db, params, analytics.DimensionBrowser)
			},
		},
	}

	pool := async.NewPool(statsPoolSize)
	results := pool.Execute(context.Background(), tasks)

	for name, result := range results {
		if result.Err != nil {
			ctx.Logger.Error("Stats query failed",
				slog.String("query", name),
				slog.Uint64("site_id", uint64(params.SiteID)),
				slog.Any("error", result.Err))
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
	}

	return ctx.JSON(fiber.Map{
		"site_id":       params.SiteID,
		"period":        params.TimeFrame.Period,
		"from":          params.TimeFrame.From,
		"to":            params.TimeFrame.To,
		"overview":      results["overview"].Data,
		"timeseries":    results["timeseries"].Data,
		"top_pages":     results["top_pages"].Data,
		"top_sources":   results["top_sources"].Data,
		"top_countries": results["top_countries"].Data,
		"top_devices":   results["top_devices"].Data,
		"top_browsers":  results["top_browsers"].Data,
	})
}

// StatsOverviewAction returns the headline counts with period deltas.
func StatsOverviewAction(ctx *cartridge.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveQuery("overview", time.Since(start).Seconds()) }()

	params, err := aggregationScope(ctx)
	if err != nil {
		if handled, res := respondPeriodError(ctx, err); handled {
			return res
		}
		ctx.Logger.Error("Failed to scope overview request", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	overview, err := analytics.GetOverview(scopedDB(ctx), params)
	if err != nil {
		ctx.Logger.Error("Overview query failed",
			slog.Uint64("site_id", uint64(params.SiteID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return ctx.JSON(fiber.Map{
		"site_id":  params.SiteID,
		"period":   params.TimeFrame.Period,
		"from":     params.TimeFrame.From,
		"to":       params.TimeFrame.To,
		"overview": overview,
	})
}

// StatsTimeseriesAction returns one point per calendar day in the window,
// zero-filled.
func StatsTimeseriesAction(ctx *cartridge.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveQuery("timeseries", time.Since(start).Seconds()) }()

	params, err := aggregationScope(ctx)
	if err != nil {
		if handled, res := respondPeriodError(ctx, err); handled {
			return res
		}
		ctx.Logger.Error("Failed to scope timeseries request", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	series, err := analytics.GetTimeSeries(scopedDB(ctx), params)
	if err != nil {
		ctx.Logger.Error("Timeseries query failed",
			slog.Uint64("site_id", uint64(params.SiteID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return ctx.JSON(fiber.Map{
		"site_id":    params.SiteID,
		"period":     params.TimeFrame.Period,
		"timeseries": series,
	})
}

// StatsBreakdownAction returns the top slices for one dimension. Country
// rows are returned with display names; the database keeps ISO codes.
func StatsBreakdownAction(ctx *cartridge.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveQuery("breakdown", time.Since(start).Seconds()) }()

	params, err := aggregationScope(ctx)
	if err != nil {
		if handled, res := respondPeriodError(ctx, err); handled {
			return res
		}
		ctx.Logger.Error("Failed to scope breakdown request", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if raw := ctx.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			params.Limit = limit
		}
	}

	dimension := ctx.Query("dimension", analytics.DimensionPath)
	rows, err := analytics.GetBreakdown(scopedDB(ctx), params, dimension)
	if err != nil {
		var invalidDimension *analytics.InvalidDimensionError
		if errors.As(err, &invalidDimension) {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": invalidDimension.Error(),
			})
		}
		ctx.Logger.Error("Breakdown query failed",
			slog.String("dimension", dimension),
			slog.Uint64("site_id", uint64(params.SiteID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	switch dimension {
	case analytics.DimensionCountry:
		rows = displayCountryRows(rows)
	case analytics.DimensionDeviceType:
		rows = displayTitledRows(rows, events.UnknownDevice)
	}

	return ctx.JSON(fiber.Map{
		"site_id":   params.SiteID,
		"period":    params.TimeFrame.Period,
		"dimension": dimension,
		"rows":      rows,
	})
}

// displayCountryRows maps stored ISO alpha-2 codes to common country names.
// Codes the dataset does not know keep the uppercased code.
func displayCountryRows(rows []analytics.BreakdownRow) []analytics.BreakdownRow {
	if len(rows) == 0 {
		return []analytics.BreakdownRow{}
	}

	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	result := make([]analytics.BreakdownRow, len(rows))
	for i, row := range rows {
		name := row.Name
		if name == events.UnknownCountry {
			name = "Unknown"
		} else if country, err := countries.FindCountryByAlpha(name); err == nil {
			name = country.Name.Common
		} else {
			name = caser.String(name)
		}
		result[i] = analytics.BreakdownRow{Name: name, Visitors: row.Visitors}
	}
	return result
}

// displayTitledRows title-cases bucket names for display, mapping the
// internal unknown label to "Unknown".
func displayTitledRows(rows []analytics.BreakdownRow, unknownLabel string) []analytics.BreakdownRow {
	if len(rows) == 0 {
		return []analytics.BreakdownRow{}
	}

	caser := cases.Title(language.AmericanEnglish)

	result := make([]analytics.BreakdownRow, len(rows))
	for i, row := range rows {
		name := row.Name
		if name == unknownLabel {
			name = "Unknown"
		}
		result[i] = analytics.BreakdownRow{Name: caser.String(name), Visitors: row.Visitors}
	}
	return result
}
