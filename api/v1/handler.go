package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/events"
	"sitepulse/internal/pkg/metrics"
)

// statusRetryLater is returned when SQLite cannot take the write right now.
// Senders treat it as a retryable condition, unlike a plain 500.
const statusRetryLater = 599

var ingestNormalizer = events.NewNormalizer(events.NormalizerConfig{})

// CreateEventHandler ingests a single event. The body is validated and
// staged durably before the response; enrichment happens later in the
// processor job.
func CreateEventHandler(ctx *cartridge.Context) error {
	userAgentHeader := ctx.Get("User-Agent")
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgentHeader = forwardedUA
	}

	input := &events.CollectInput{
		Body:      append([]byte(nil), ctx.Body()...),
		RemoteIP:  getClientIP(ctx.Ctx),
		UserAgent: userAgentHeader,
	}

	if err := events.CollectEvent(ctx.DBManager, ctx.Logger, ingestNormalizer, input); err != nil {
		return respondIngestError(ctx, err)
	}

	metrics.IncIngest("accepted")
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{
		"status": http.StatusCreated,
	})
}

func respondIngestError(ctx *cartridge.Context, err error) error {
	var validationErr *events.ValidationError
	if errors.As(err, &validationErr) {
		metrics.IncIngest("invalid")
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Error(),
			"code":  "INVALID_EVENT",
		})
	}

	var tenantErr *events.UnknownTenantError
	if errors.As(err, &tenantErr) {
		metrics.IncIngest("unknown_site")
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "site not found",
			"code":  "SITE_NOT_FOUND",
		})
	}

	ctx.Logger.Error("Failed to collect event", slog.Any("error", err))
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		metrics.IncIngest("retry")
		return ctx.Status(statusRetryLater).JSON(fiber.Map{
			"error": "storage busy, retry later",
			"code":  "RETRY_LATER",
		})
	}

	metrics.IncIngest("error")
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "failed to collect event",
		"code":  "COLLECTION_ERROR",
	})
}

// CreateEventBeaconHandler ingests events sent via navigator.sendBeacon.
// Beacons fire during page unload and the browser never reads the response,
// so every outcome maps to 202.
func CreateEventBeaconHandler(ctx *cartridge.Context) error {
	userAgentHeader := ctx.Get("User-Agent")
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgentHeader = forwardedUA
	}

	input := &events.CollectInput{
		Body:      append([]byte(nil), ctx.Body()...),
		RemoteIP:  getClientIP(ctx.Ctx),
		UserAgent: userAgentHeader,
	}

	if err := events.CollectEvent(ctx.DBManager, ctx.Logger, ingestNormalizer, input); err != nil {
		ctx.Logger.Debug("Dropped beacon event", slog.Any("error", err))
		metrics.IncIngest("beacon_dropped")
		return ctx.SendStatus(http.StatusAccepted)
	}

	metrics.IncIngest("accepted")
	return ctx.SendStatus(http.StatusAccepted)
}
