package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"sitepulse/internal/sites"
)

// CurrentSiteKey is the request-local key holding the resolved *sites.Site.
const CurrentSiteKey = "current_site"

// SiteScope resolves the :id route parameter to a site owned by the
// authenticated user and stores it in the request context. Unknown sites and
// sites owned by someone else get the same generic 404, so the endpoint
// cannot be used to probe which site IDs exist. Must run after APIKeyAuth.
func SiteScope(db *gorm.DB, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		siteID, err := c.ParamsInt("id")
		if err != nil || siteID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid site id",
			})
		}

		user := CurrentUser(c)
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		site, err := sites.GetOwnedSite(db, uint(siteID), user.ID)
		if err != nil {
			logger.Debug("Site scope rejected request",
				slog.Int("site_id", siteID),
				slog.Uint64("user_id", uint64(user.ID)),
				slog.Any("error", err))
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "site not found",
			})
		}

		c.Locals(CurrentSiteKey, site)
		return c.Next()
	}
}

// CurrentSite returns the site stored by SiteScope, or nil outside
// site-scoped routes.
func CurrentSite(c *fiber.Ctx) *sites.Site {
	site, _ := c.Locals(CurrentSiteKey).(*sites.Site)
	return site
}
