package http

import (
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/analytics"
	"sitepulse/internal/pkg/metrics"
)

// RevenueIndexAction returns the window's revenue attributed to traffic
// sources. Amounts are integer cents.
func RevenueIndexAction(ctx *cartridge.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveQuery("revenue", time.Since(start).Seconds()) }()

	params, err := aggregationScope(ctx)
	if err != nil {
		if handled, res := respondPeriodError(ctx, err); handled {
			return res
		}
		ctx.Logger.Error("Failed to scope revenue request", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	report, err := analytics.GetRevenueBySource(scopedDB(ctx), params)
	if err != nil {
		ctx.Logger.Error("Revenue query failed",
			slog.Uint64("site_id", uint64(params.SiteID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return ctx.JSON(fiber.Map{
		"site_id": params.SiteID,
		"period":  params.TimeFrame.Period,
		"from":    params.TimeFrame.From,
		"to":      params.TimeFrame.To,
		"revenue": report,
	})
}
