package analytics

import (
	"fmt"

	"gorm.io/gorm"
)

// SourceRevenue is one attributed slice of the revenue report.
type SourceRevenue struct {
	Source       string `json:"source"`
	RevenueCents int64  `json:"revenue_cents"`
	Payments     int64  `json:"payments"`
}

// RevenueReport attributes the window's payments to traffic sources. The
// by-source rows always sum exactly to the totals because attribution only
// relabels payments, it never drops or double-counts one.
type RevenueReport struct {
	TotalCents    int64           `json:"total_cents"`
	TotalPayments int64           `json:"total_payments"`
	BySource      []SourceRevenue `json:"by_source"`
}

// GetRevenueBySource joins each payment in the window to the payer's latest
// classified source at or before the payment timestamp. Payments whose
// visitor has no prior classified event, including payments with no visitor
// at all, land in the "unknown" bucket rather than being dropped. Amounts
// stay in integer cents throughout.
func GetRevenueBySource(db *gorm.DB, params QueryParams) (*RevenueReport, error) {
	var rows []SourceRevenue

	query := `
    SELECT
        COALESCE(
            (SELECT e.source
             FROM events e
             WHERE e.site_id = p.site_id
             AND e.visitor_id = p.visitor_id
             AND e.timestamp <= p.timestamp
             AND e.source != ''
             ORDER BY e.timestamp DESC
             LIMIT 1),
            'unknown'
        ) AS source,
        SUM(p.amount_cents) AS revenue_cents,
        COUNT(*) AS payments
    FROM payments p
    WHERE p.site_id = ?
    AND p.timestamp >= ? AND p.timestamp < ?
    GROUP BY source
    ORDER BY revenue_cents DESC, source ASC
    `

	err := db.Raw(query,
		params.SiteID,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching revenue attribution: %w", err)
	}

	report := &RevenueReport{BySource: rows}
	if report.BySource == nil {
		report.BySource = make([]SourceRevenue, 0)
	}
	for _, row := range rows {
		report.TotalCents += row.RevenueCents
		report.TotalPayments += row.Payments
	}

	return report, nil
}
