package http

import (
	"strings"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/http/middleware"
	"sitepulse/internal/sites"
)

// siteListStatsDays is the trailing window for the event counts shown on
// the site listing.
const siteListStatsDays = 30

// SitesIndexAction lists the caller's sites with recent event volume.
func SitesIndexAction(ctx *cartridge.Context) error {
	user := middleware.CurrentUser(ctx.Ctx)
	if user == nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	listed, err := sites.ListSitesWithStats(ctx.DB(), user.ID, siteListStatsDays)
	if err != nil {
		ctx.Logger.Error("Failed to list sites",
			slog.Uint64("user_id", uint64(user.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return ctx.JSON(fiber.Map{"sites": listed})
}

// SiteCreateAction registers a new site for the caller.
func SiteCreateAction(ctx *cartridge.Context) error {
	user := middleware.CurrentUser(ctx.Ctx)
	if user == nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req struct {
		Domain string `json:"domain"`
	}
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	site := sites.Site{UserID: user.ID, Domain: req.Domain}
	if err := sites.CreateSite(ctx.DB(), &site); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "domain already registered",
			})
		}
		if strings.Contains(err.Error(), "domain cannot be empty") {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "domain is required",
			})
		}
		ctx.Logger.Error("Failed to create site",
			slog.String("domain", req.Domain),
			slog.Uint64("user_id", uint64(user.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	ctx.Logger.Info("Site created",
		slog.Uint64("site_id", uint64(site.ID)),
		slog.String("domain", site.Domain))
	return ctx.Status(fiber.StatusCreated).JSON(site)
}

// SiteShowAction returns one owned site. Resolution and the ownership check
// happen in the scoping middleware.
func SiteShowAction(ctx *cartridge.Context) error {
	site := middleware.CurrentSite(ctx.Ctx)
	if site == nil {
		ctx.Logger.Error("Site show without site scope")
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return ctx.JSON(site)
}

// SiteDeleteAction removes a site and cascades over its events, staged
// events and payments.
func SiteDeleteAction(ctx *cartridge.Context) error {
	user := middleware.CurrentUser(ctx.Ctx)
	site := middleware.CurrentSite(ctx.Ctx)
	if user == nil || site == nil {
		ctx.Logger.Error("Site delete without resolved scope")
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if err := sites.DeleteSite(ctx.DB(), site.ID, user.ID); err != nil {
		ctx.Logger.Error("Failed to delete site",
			slog.Uint64("site_id", uint64(site.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	ctx.Logger.Info("Site deleted",
		slog.Uint64("site_id", uint64(site.ID)),
		slog.String("domain", site.Domain))
	return ctx.JSON(fiber.Map{"status": "deleted"})
}
