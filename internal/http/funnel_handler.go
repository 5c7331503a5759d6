package http

import (
	"errors"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/analytics"
	"sitepulse/internal/pkg/metrics"
)

// FunnelRequest is the posted funnel definition.
type FunnelRequest struct {
	Steps  []analytics.FunnelStep `json:"steps"`
	Period string                 `json:"period"`
}

// FunnelComputeAction evaluates an ordered funnel over the window. The step
// definition travels in the body because funnels are ad hoc; nothing is
// stored.
func FunnelComputeAction(ctx *cartridge.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveQuery("funnel", time.Since(start).Seconds()) }()

	var req FunnelRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	params, err := funnelScope(ctx, req.Period)
	if err != nil {
		if handled, res := respondPeriodError(ctx, err); handled {
			return res
		}
		ctx.Logger.Error("Failed to scope funnel request", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	results, err := analytics.ComputeFunnel(scopedDB(ctx), params, req.Steps)
	if err != nil {
		var invalidFunnel *analytics.InvalidFunnelError
		if errors.As(err, &invalidFunnel) {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": invalidFunnel.Error(),
			})
		}
		ctx.Logger.Error("Funnel query failed",
			slog.Uint64("site_id", uint64(params.SiteID)),
			slog.Int("steps", len(req.Steps)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return ctx.JSON(fiber.Map{
		"site_id": params.SiteID,
		"period":  params.TimeFrame.Period,
		"steps":   results,
	})
}

// funnelScope mirrors aggregationScope but prefers the period from the
// posted body over the query string.
func funnelScope(ctx *cartridge.Context, period string) (analytics.QueryParams, error) {
	if period == "" {
		period = ctx.Query("period")
	}
	return aggregationScopeWithPeriod(ctx, period)
}
