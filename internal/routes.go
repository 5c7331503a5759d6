package internal

import (
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "sitepulse/api/v1"
	"sitepulse/internal/config"
	"sitepulse/internal/http"
	"sitepulse/internal/http/middleware"
)

// publicCORSConfig is shared by every public endpoint. Tracking requests
// come from arbitrary origins, so the policy is permissive.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API.
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	// Rate limiting only applies in production; in development and test it
	// would interfere with seeding and load scripts.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 requests per minute per IP handles legitimate tracking traffic
	// while keeping abuse off the write path.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public ingestion config. CORS runs first so rejected requests still
	// carry CORS headers. Sec-Fetch-Site stays off: events also arrive from
	// mobile apps and server-side senders that never set it.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		WriteConcurrency:   false,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Tracker script delivery: GET-only, cacheable.
	trackerConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Authenticated API: per-user API keys, no sessions, no CORS. Keys do
	// not belong in browsers.
	apiConfig := &cartridge.RouteConfig{
		CustomMiddleware:   []fiber.Handler{middleware.APIKeyAuth(db, logger)},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Site-scoped API: authentication plus tenant resolution on :id.
	siteScopedConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.APIKeyAuth(db, logger),
			middleware.SiteScope(db, logger),
		},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	noContent := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	// === OPERATIONAL ENDPOINTS ===
	srv.Get("/health", http.HealthIndexAction)
	srv.Head("/health", http.HealthIndexAction)
	srv.App().Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// === PUBLIC INGESTION ===
	srv.Post("/api/v1/events", v1.CreateEventHandler, publicAPIConfig)
	srv.Options("/api/v1/events", noContent, publicAPIConfig)
	srv.Post("/api/v1/events/beacon", v1.CreateEventBeaconHandler, publicAPIConfig)
	srv.Options("/api/v1/events/beacon", noContent, publicAPIConfig)
	srv.Get("/api/v1/tracker.js", v1.GetTrackerAction, trackerConfig)

	// === SITES ===
	srv.Get("/api/v1/sites", http.SitesIndexAction, apiConfig)
	srv.Post("/api/v1/sites", http.SiteCreateAction, apiConfig)
	srv.Get("/api/v1/sites/:id", http.SiteShowAction, siteScopedConfig)
	srv.Delete("/api/v1/sites/:id", http.SiteDeleteAction, siteScopedConfig)

	// === AGGREGATIONS ===
	srv.Get("/api/v1/sites/:id/stats", http.StatsIndexAction, siteScopedConfig)
	srv.Get("/api/v1/sites/:id/stats/overview", http.StatsOverviewAction, siteScopedConfig)
	srv.Get("/api/v1/sites/:id/stats/timeseries", http.StatsTimeseriesAction, siteScopedConfig)
	srv.Get("/api/v1/sites/:id/stats/breakdown", http.StatsBreakdownAction, siteScopedConfig)
	srv.Post("/api/v1/sites/:id/funnel", http.FunnelComputeAction, siteScopedConfig)
	srv.Get("/api/v1/sites/:id/retention", http.RetentionIndexAction, siteScopedConfig)
	srv.Get("/api/v1/sites/:id/revenue", http.RevenueIndexAction, siteScopedConfig)
	srv.Get("/api/v1/sites/:id/events", http.EventsIndexAction, siteScopedConfig)

	// === PAYMENTS ===
	srv.Post("/api/v1/payments", http.PaymentsCreateAction, apiConfig)
}
