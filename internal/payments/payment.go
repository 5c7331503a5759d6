// Package payments stores the payment fact stream. Payments live in their
// own table, keyed by (site_id, visitor_id), and are only ever joined to
// events through that pair during revenue attribution.
package payments

import (
	"errors"
	"math"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// DefaultCurrency is assumed when an amount arrives without a currency code.
const DefaultCurrency = "USD"

var (
	ErrMissingSite   = errors.New("payment must reference a site")
	ErrInvalidAmount = errors.New("payment amount must be non-zero")
)

// Payment is a recorded transaction. VisitorID may be empty when the payment
// could not be tied to a tracked visitor; attribution reports bucket those
// under "unknown".
type Payment struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID      uint      `gorm:"index:idx_payments_site_timestamp;not null" json:"site_id"`
	VisitorID   string    `gorm:"index;size:64" json:"visitor_id"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Currency    string    `gorm:"size:8;not null" json:"currency"`
	Timestamp   time.Time `gorm:"index:idx_payments_site_timestamp;not null" json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordPaymentInput carries a payment into RecordPayment. A zero Timestamp
// means "now"; an empty Currency defaults to USD.
type RecordPaymentInput struct {
	SiteID    uint
	VisitorID string
	Amount    float64
	Currency  string
	Timestamp time.Time
}

// RecordPayment validates and stores a payment. Amounts are converted to
// integer cents immediately so downstream aggregation never touches floats.
// Negative amounts are accepted and act as refunds.
func RecordPayment(dbManager cartridge.DBManager, logger *slog.Logger, input *RecordPaymentInput) (*Payment, error) {
	if input.SiteID == 0 {
		return nil, ErrMissingSite
	}
	cents := toCents(input.Amount)
	if cents == 0 {
		return nil, ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	payment := &Payment{
		SiteID:      input.SiteID,
		VisitorID:   input.VisitorID,
		AmountCents: cents,
		Currency:    currency,
		Timestamp:   timestamp.UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(payment).Error
	})
	if err != nil {
		logger.Error("Failed to store payment", slog.Any("error", err))
		return nil, err
	}

	return payment, nil
}

// toCents converts a decimal amount to integer cents, rounding half away
// from zero.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
