package http

import (
	"errors"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/http/middleware"
	"sitepulse/internal/payments"
	"sitepulse/internal/pkg/metrics"
	"sitepulse/internal/sites"
)

// PaymentRequest is the posted payment. Timestamp is optional RFC3339;
// empty means now. VisitorID is optional and links the payment to a
// tracked visitor for source attribution.
type PaymentRequest struct {
	SiteID    uint    `json:"site_id"`
	VisitorID string  `json:"visitor_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Timestamp string  `json:"timestamp"`
}

// PaymentsCreateAction records a payment against a site the caller owns.
// Unknown and foreign sites get the same 404 as everywhere else.
func PaymentsCreateAction(ctx *cartridge.Context) error {
	user := middleware.CurrentUser(ctx.Ctx)
	if user == nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req PaymentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.SiteID == 0 {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "site_id is required",
		})
	}

	if _, err := sites.GetOwnedSite(ctx.DB(), req.SiteID, user.ID); err != nil {
		ctx.Logger.Debug("Payment rejected for unowned site",
			slog.Uint64("site_id", uint64(req.SiteID)),
			slog.Uint64("user_id", uint64(user.ID)))
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "site not found",
		})
	}

	var timestamp time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "timestamp must be an ISO-8601 datetime",
			})
		}
		timestamp = parsed
	}

	payment, err := payments.RecordPayment(ctx.DBManager, ctx.Logger, &payments.RecordPaymentInput{
		SiteID:    req.SiteID,
		VisitorID: req.VisitorID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Timestamp: timestamp,
	})
	if err != nil {
		if errors.Is(err, payments.ErrInvalidAmount) || errors.Is(err, payments.ErrMissingSite) {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		ctx.Logger.Error("Failed to record payment",
			slog.Uint64("site_id", uint64(req.SiteID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	metrics.IncPaymentRecorded("api")
	return ctx.Status(fiber.StatusCreated).JSON(payment)
}
