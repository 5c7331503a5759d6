package events

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/payments"
	ua "sitepulse/internal/pkg/useragent"
	"sitepulse/internal/sites"
	"sitepulse/internal/traffic"
)

// ProcessingResult holds the outcome of a processing run.
type ProcessingResult struct {
	ProcessedEvents []*Event
	SkippedBots     int
	DerivedPayments int
}

// ProcessStagedEvents promotes staged rows to events in batches: bots are
// dropped, traffic is classified, device and geo attributes are resolved,
// and revenue events derive payment rows. Every staged row in a batch is
// marked processed, including the skipped ones.
func ProcessStagedEvents(dbManager cartridge.DBManager, logger *slog.Logger, batchSize int) (*ProcessingResult, error) {
	db := dbManager.GetConnection()
	result := &ProcessingResult{
		ProcessedEvents: make([]*Event, 0),
	}

	var staged []StagedEvent
	err := db.Where("processed = 0").Order("created_at asc").Find(&staged).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staged events: %w", err)
	}

	if len(staged) == 0 {
		return result, nil
	}

	logger.Info("Processing staged events", slog.Int("total", len(staged)))

	domains := newSiteDomainCache(db)

	for i := 0; i < len(staged); i += batchSize {
		end := i + batchSize
		if end > len(staged) {
			end = len(staged)
		}
		batch := staged[i:end]

		err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			processed, skipped, derived, err := processBatch(tx, logger, batch, domains)
			if err != nil {
				return err
			}
			result.ProcessedEvents = append(result.ProcessedEvents, processed...)
			result.SkippedBots += skipped
			result.DerivedPayments += derived
			return nil
		})
		if err != nil {
			logger.Error("Failed to process batch", slog.Int("start", i), slog.Int("end", end), slog.Any("error", err))
			continue
		}
	}

	logger.Info("Processed staged events",
		slog.Int("promoted", len(result.ProcessedEvents)),
		slog.Int("bots_skipped", result.SkippedBots),
		slog.Int("total", len(staged)))
	return result, nil
}

// processBatch promotes one batch within a transaction.
func processBatch(tx *gorm.DB, logger *slog.Logger, batch []StagedEvent, domains *siteDomainCache) ([]*Event, int, int, error) {
	var processed []*Event
	skipped := 0
	derived := 0

	for _, row := range batch {
		parsedUA := ua.ParseUserAgent(row.UserAgent)
		if parsedUA.Bot {
			logger.Debug("Skipping bot event",
				slog.Uint64("staged_event_id", uint64(row.ID)),
				slog.String("user_agent", row.UserAgent))
			skipped++
			continue
		}

		event := buildEvent(&row, parsedUA, domains.domainFor(row.SiteID))

		if err := tx.Create(event).Error; err != nil {
			return nil, 0, 0, fmt.Errorf("failed to create event: %w", err)
		}

		if event.EventType == EventTypeRevenue && event.RevenueCents != 0 {
			payment := &payments.Payment{
				SiteID:      event.SiteID,
				VisitorID:   event.VisitorID,
				AmountCents: event.RevenueCents,
				Currency:    event.Currency,
				Timestamp:   event.Timestamp,
				CreatedAt:   time.Now().UTC(),
			}
			if err := tx.Create(payment).Error; err != nil {
				return nil, 0, 0, fmt.Errorf("failed to derive payment from revenue event: %w", err)
			}
			derived++
		}

		processed = append(processed, event)
	}

	var stagedIDs []uint
	for _, row := range batch {
		stagedIDs = append(stagedIDs, row.ID)
	}
	if len(stagedIDs) > 0 {
		if err := tx.Model(&StagedEvent{}).Where("id IN ?", stagedIDs).Update("processed", 1).Error; err != nil {
			return nil, 0, 0, fmt.Errorf("failed to mark staged events as processed: %w", err)
		}
	}

	return processed, skipped, derived, nil
}

// buildEvent enriches one staged row into its final immutable form.
func buildEvent(row *StagedEvent, parsedUA ua.UserAgent, siteDomain string) *Event {
	utm := traffic.UTMParams{
		Source:   row.UTMSource,
		Medium:   row.UTMMedium,
		Campaign: row.UTMCampaign,
		Term:     row.UTMTerm,
		Content:  row.UTMContent,
	}

	classification := traffic.Classify(row.Referrer, utm)
	if IsSelfReferral(classification.ReferrerHost, siteDomain) {
		// Internal navigation must not masquerade as a traffic source.
		classification = traffic.Classify("", utm)
	}

	return &Event{
		SiteID:          row.SiteID,
		VisitorID:       row.VisitorID,
		SessionID:       row.SessionID,
		EventType:       row.EventType,
		Timestamp:       row.Timestamp,
		Path:            row.Path,
		Hostname:        row.Hostname,
		Title:           row.Title,
		Referrer:        row.Referrer,
		ReferrerHost:    classification.ReferrerHost,
		Source:          classification.Source,
		Medium:          classification.Medium,
		UTMSource:       row.UTMSource,
		UTMMedium:       row.UTMMedium,
		UTMCampaign:     row.UTMCampaign,
		UTMTerm:         row.UTMTerm,
		UTMContent:      row.UTMContent,
		DeviceType:      deviceTypeFromParsedUA(parsedUA),
		Browser:         browserFromParsedUA(parsedUA),
		OperatingSystem: osFromParsedUA(parsedUA),
		Country:         CountryFromIP(row.RemoteIP),
		EventName:       row.EventName,
		EventData:       row.EventData,
		RevenueCents:    row.RevenueCents,
		Currency:        row.Currency,
		RawPayload:      row.RawPayload,
		CreatedAt:       row.CreatedAt,
	}
}

// siteDomainCache memoizes site domains for a processing run so self-referral
// checks do not re-query per event.
type siteDomainCache struct {
	db      *gorm.DB
	domains map[uint]string
}

func newSiteDomainCache(db *gorm.DB) *siteDomainCache {
	return &siteDomainCache{db: db, domains: make(map[uint]string)}
}

func (c *siteDomainCache) domainFor(siteID uint) string {
	if domain, ok := c.domains[siteID]; ok {
		return domain
	}
	domain := ""
	if site, err := sites.Resolve(c.db, siteID); err == nil {
		domain = site.Domain
	}
	c.domains[siteID] = domain
	return domain
}

// IsSelfReferral reports whether a referrer host belongs to the site itself.
// Base domains are compared, so a referral from blog.example.com to
// example.com counts as internal navigation.
func IsSelfReferral(referrerHost, siteDomain string) bool {
	if referrerHost == "" || siteDomain == "" {
		return false
	}
	return sites.BaseDomainForHost(referrerHost) == sites.BaseDomainForHost(siteDomain)
}
