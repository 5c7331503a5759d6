package http

import (
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/analytics"
	"sitepulse/internal/http/middleware"
	"sitepulse/internal/pkg/metrics"
)

// RetentionIndexAction returns weekly retention cohorts for the trailing
// eight weeks. Weeks start on Monday; the window is fixed, so no period
// param applies.
func RetentionIndexAction(ctx *cartridge.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveQuery("retention", time.Since(start).Seconds()) }()

	site := middleware.CurrentSite(ctx.Ctx)
	if site == nil {
		ctx.Logger.Error("Retention request without site scope")
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	cohorts, err := analytics.GetRetention(scopedDB(ctx), site.ID, time.Now())
	if err != nil {
		ctx.Logger.Error("Retention query failed",
			slog.Uint64("site_id", uint64(site.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return ctx.JSON(fiber.Map{
		"site_id": site.ID,
		"cohorts": cohorts,
	})
}
