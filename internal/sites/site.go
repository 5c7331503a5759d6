package sites

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// SiteNotFoundError represents an error when a site cannot be resolved,
// typically at ingestion time for an unknown site_id.
type SiteNotFoundError struct {
	SiteID uint
	Domain string
}

func (e *SiteNotFoundError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("site not found for domain: %s", e.Domain)
	}
	return fmt.Sprintf("site not found: %d", e.SiteID)
}

// NewSiteNotFoundError creates a SiteNotFoundError for a site ID.
func NewSiteNotFoundError(siteID uint) *SiteNotFoundError {
	return &SiteNotFoundError{SiteID: siteID}
}

// AccessDeniedError is returned when a caller queries a site it does not own.
// The message is deliberately identical to the unknown-site case so callers
// cannot distinguish "not found" from "not yours" and enumerate tenants.
type AccessDeniedError struct {
	SiteID uint
}

func (e *AccessDeniedError) Error() string {
	return "site not found"
}

// NewAccessDeniedError creates an AccessDeniedError for a site ID.
func NewAccessDeniedError(siteID uint) *AccessDeniedError {
	return &AccessDeniedError{SiteID: siteID}
}

// Site is the tenant boundary. Every event and payment belongs to exactly
// one site, and every query is scoped by (site_id, owner).
type Site struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Domain    string    `gorm:"unique;not null" json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// Resolve looks up a site by ID. This is the tenant resolution step every
// ingested event passes through: an unresolvable site_id is a rejection,
// never a silent default bucket.
func Resolve(db *gorm.DB, siteID uint) (*Site, error) {
	var site Site
	if err := db.First(&site, siteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewSiteNotFoundError(siteID)
		}
		return nil, fmt.Errorf("unexpected error resolving site: %w", err)
	}
	return &site, nil
}

// GetOwnedSite is the single ownership gate for the query side: it returns
// the site only when it exists AND belongs to userID, and the identical
// AccessDeniedError otherwise.
func GetOwnedSite(db *gorm.DB, siteID, userID uint) (*Site, error) {
	var site Site
	err := db.Where("id = ? AND user_id = ?", siteID, userID).First(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewAccessDeniedError(siteID)
		}
		return nil, fmt.Errorf("unexpected error loading site: %w", err)
	}
	return &site, nil
}

// GetSiteByDomain retrieves a site by its domain.
func GetSiteByDomain(db *gorm.DB, domain string) (*Site, error) {
	var site Site
	if err := db.Where("domain = ?", domain).First(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

// ListSitesForUser returns all sites owned by a user, oldest first.
func ListSitesForUser(db *gorm.DB, userID uint) ([]Site, error) {
	var result []Site
	if err := db.Where("user_id = ?", userID).Order("id ASC").Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return result, nil
}

// CreateSite registers a new site for an owner. The domain is normalized
// (lowercased, leading www. stripped) before the uniqueness check.
func CreateSite(db *gorm.DB, site *Site) error {
	if site.UserID == 0 {
		return errors.New("site must have an owner")
	}

	site.Domain = NormalizeDomain(site.Domain)
	if site.Domain == "" {
		return errors.New("site domain cannot be empty")
	}
	site.CreatedAt = time.Now().UTC()

	logger := slog.Default()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(site).Error
	})
}

// DeleteSite removes a site owned by userID together with all of its data.
// Events and payments only ever leave the store through this cascade (or
// through retention cleanup); there is no per-row deletion path.
func DeleteSite(db *gorm.DB, siteID, userID uint) error {
	site, err := GetOwnedSite(db, siteID, userID)
	if err != nil {
		return err
	}

	logger := slog.Default()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		for _, table := range []string{"events", "staged_events", "payments"} {
			if err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE site_id = ?", table), site.ID).Error; err != nil {
				return fmt.Errorf("failed to delete %s for site %d: %w", table, site.ID, err)
			}
		}
		return tx.Delete(&Site{}, site.ID).Error
	})
}

// NormalizeDomain lowercases a domain and strips a leading "www." so the
// registered form matches what referrer and hostname comparisons produce.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

// BaseDomainForHost returns the canonical base domain for a hostname,
// preserving localhost semantics while collapsing subdomains
// (e.g. app.example.com -> example.com). Used for self-referral detection.
func BaseDomainForHost(host string) string {
	return stripSubdomains(host)
}

// stripSubdomains extracts the base domain from a hostname
func stripSubdomains(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	if len(parts) < 2 {
		return strings.ToLower(host) // e.g., "localhost" -> "localhost"
	}

	// Special case for localhost subdomains (e.g., "sub.localhost" -> "localhost")
	lastPart := parts[len(parts)-1]
	if lastPart == "localhost" {
		return "localhost"
	}

	secondLast := parts[len(parts)-2]

	// Country-specific TLDs with a two-part structure need three parts
	ccTLDPatterns := map[string]bool{
		"co.uk":  true,
		"co.jp":  true,
		"co.za":  true,
		"co.nz":  true,
		"co.in":  true,
		"com.au": true,
		"com.br": true,
		"org.uk": true,
		"gov.uk": true,
		"edu.au": true,
		"ac.uk":  true,
		"ne.jp":  true,
		"or.jp":  true,
	}

	if len(parts) > 2 {
		twoPartTLD := fmt.Sprintf("%s.%s", secondLast, lastPart)
		if ccTLDPatterns[twoPartTLD] {
			thirdLast := parts[len(parts)-3]
			return fmt.Sprintf("%s.%s.%s", thirdLast, secondLast, lastPart)
		}
	}

	return fmt.Sprintf("%s.%s", secondLast, lastPart)
}

// SiteWithStats is a site enriched with its recent event volume, used by the
// site listing endpoint and the CLI.
type SiteWithStats struct {
	ID         uint      `json:"id"`
	Domain     string    `json:"domain"`
	CreatedAt  time.Time `json:"created_at"`
	EventCount int64     `json:"event_count"`
}

// ListSitesWithStats returns the caller's sites enriched with event counts
// over the trailing daysBack days.
func ListSitesWithStats(db *gorm.DB, userID uint, daysBack int) ([]SiteWithStats, error) {
	owned, err := ListSitesForUser(db, userID)
	if err != nil {
		return nil, err
	}

	result := make([]SiteWithStats, len(owned))
	timeLimit := time.Now().UTC().AddDate(0, 0, -daysBack)

	for i, site := range owned {
		var eventCount int64
		err := db.Table("events").
			Where("site_id = ? AND timestamp >= ?", site.ID, timeLimit).
			Count(&eventCount).Error
		if err != nil {
			eventCount = 0
		}

		result[i] = SiteWithStats{
			ID:         site.ID,
			Domain:     site.Domain,
			CreatedAt:  site.CreatedAt,
			EventCount: eventCount,
		}
	}

	return result, nil
}
