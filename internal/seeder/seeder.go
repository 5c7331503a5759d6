// Package seeder populates the database with realistic sample traffic:
// owner account, sites, visitor journeys over the trailing weeks, goals,
// revenue and the processed events the dashboards read.
package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/sites"
	"sitepulse/internal/users"
)

const (
	seedEmail    = "admin@example.com"
	seedPassword = "password"

	processorBatchSize = 500
)

var seedDomains = []string{
	"example.com",
	"blog.example.com",
	"shop.example.com",
	"mywebsite.com",
}

// Journey templates, the paths a visitor walks within one session.
var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/blog", "/blog/article-1", "/blog/article-2"},
	{"/", "/signup"},
	{"/", "/features", "/pricing", "/docs", "/signup"},
	{"/products", "/products/widget-a", "/pricing", "/signup"},
	{"/", "/about", "/features", "/pricing", "/docs/getting-started", "/signup"},
	{"/login", "/dashboard", "/settings"},
	{"/blog/article-1", "/about", "/pricing", "/signup"},
}

var goalNames = []string{
	"newsletter_signup",
	"demo_requested",
	"account_created",
	"free_trial_started",
	"contact_form_submitted",
}

var purchaseAmounts = []float64{9.99, 29.99, 49.00, 99.00, 299.00}

type utmTag struct {
	source   string
	medium   string
	campaign string
}

var utmTags = []utmTag{
	{"google", "cpc", "spring_sale"},
	{"newsletter", "email", "product_launch"},
	{"twitter", "social", "dev_outreach"},
	{"facebook", "social", "q4_promo"},
}

// Seeder drives the data seeding process.
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	EventCount int

	normalizer *events.Normalizer
}

// NewSeeder creates a new seeder instance.
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		EventCount: eventCount,
		normalizer: events.NewNormalizer(events.NormalizerConfig{}),
	}
}

// Run executes the full seeding process: owner, sites, traffic, processing.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("eventCount", s.EventCount))

	user, err := s.seedUser()
	if err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}

	siteList, err := s.seedSites(user.ID)
	if err != nil {
		return fmt.Errorf("failed to seed sites: %w", err)
	}

	perSite := s.EventCount / len(siteList)
	if perSite == 0 {
		perSite = 1
	}
	for _, site := range siteList {
		s.Logger.Info("Generating traffic for site", slog.String("domain", site.Domain))
		if err := s.generateJourneys(ctx, site, perSite); err != nil {
			return fmt.Errorf("failed to generate traffic for %s: %w", site.Domain, err)
		}
	}

	s.Logger.Info("Processing generated events...")
	if err := s.processAllEvents(); err != nil {
		return fmt.Errorf("failed to process events: %w", err)
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// SeedDomain seeds a single existing domain with test data.
func (s *Seeder) SeedDomain(ctx context.Context, domain string) error {
	start := time.Now()
	s.Logger.Info("Seeding specific domain...",
		slog.String("domain", domain), slog.Int("eventCount", s.EventCount))

	db := s.DBManager.GetConnection()
	site, err := sites.GetSiteByDomain(db, sites.NormalizeDomain(domain))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("site with domain %s not found", domain)
		}
		return fmt.Errorf("failed to find site: %w", err)
	}

	if err := s.generateJourneys(ctx, site, s.EventCount); err != nil {
		return fmt.Errorf("failed to generate traffic for %s: %w", site.Domain, err)
	}

	s.Logger.Info("Processing generated events...")
	if err := s.processAllEvents(); err != nil {
		return fmt.Errorf("failed to process events: %w", err)
	}

	s.Logger.Info("Domain seeding completed",
		slog.String("domain", domain), slog.Duration("elapsed", time.Since(start)))
	return nil
}

// seedUser ensures the default owner account exists.
func (s *Seeder) seedUser() (*users.User, error) {
	db := s.DBManager.GetConnection()

	user, err := users.CreateUser(db, seedEmail, seedPassword)
	if err == nil {
		s.Logger.Info("Owner account created",
			slog.String("email", user.Email), slog.String("api_key", user.APIKey))
		return user, nil
	}
	if !errors.Is(err, users.ErrUserExists) {
		return nil, err
	}

	user, err = users.FindByEmail(db, seedEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch existing owner: %w", err)
	}
	s.Logger.Info("Owner account already exists", slog.String("email", user.Email))
	return user, nil
}

// seedSites creates the default sites for the owner.
func (s *Seeder) seedSites(userID uint) ([]*sites.Site, error) {
	db := s.DBManager.GetConnection()
	var siteList []*sites.Site

	for _, domain := range seedDomains {
		existing, err := sites.GetSiteByDomain(db, domain)
		if err == nil {
			s.Logger.Info("Site already exists", slog.String("domain", existing.Domain))
			siteList = append(siteList, existing)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to check for site %s: %w", domain, err)
		}

		site := &sites.Site{UserID: userID, Domain: domain}
		if err := sites.CreateSite(db, site); err != nil {
			return nil, fmt.Errorf("failed to create site %s: %w", domain, err)
		}
		s.Logger.Info("Site created",
			slog.Uint64("id", uint64(site.ID)), slog.String("domain", site.Domain))
		siteList = append(siteList, site)
	}

	return siteList, nil
}

// generateJourneys simulates visitors for one site. Each visitor gets one or
// more sessions spread over the trailing eight weeks so retention cohorts
// have genuine returners, and a share of sessions end in goals or purchases.
func (s *Seeder) generateJourneys(ctx context.Context, site *sites.Site, targetEvents int) error {
	ipPool := generateIPPool(100)
	agents := seedUserAgents()
	referrerPool := seedReferrers()

	// A visitor averages about two sessions of four pageviews each.
	numVisitors := targetEvents / 8
	if numVisitors < 5 {
		numVisitors = 5
	}

	now := time.Now().UTC()
	eventsCreated := 0

	for i := 0; i < numVisitors; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		visitorID := uuid.NewString()
		ip := ipPool[rand.IntN(len(ipPool))]
		userAgent := agents[rand.IntN(len(agents))]

		numSessions := 1 + rand.IntN(4)
		sessionTime := now.Add(-time.Duration(rand.IntN(56*24)) * time.Hour)

		for sess := 0; sess < numSessions; sess++ {
			if sess > 0 {
				sessionTime = sessionTime.Add(time.Duration(1+rand.IntN(14)) * 24 * time.Hour)
			}
			if sessionTime.After(now) {
				break
			}

			referrer := referrerPool[rand.IntN(len(referrerPool))]
			n := s.seedSession(site, visitorID, ip, userAgent, referrer, sessionTime)
			eventsCreated += n
		}
	}

	s.Logger.Info("Generated journey-based events for site",
		slog.String("domain", site.Domain),
		slog.Int("visitors", numVisitors),
		slog.Int("totalEvents", eventsCreated))
	return nil
}

// seedSession walks one journey template as a single session and sometimes
// appends a conversion at the end.
func (s *Seeder) seedSession(site *sites.Site, visitorID, ip, userAgent, referrer string, start time.Time) int {
	journey := journeyTemplates[rand.IntN(len(journeyTemplates))]
	sessionID := uuid.NewString()
	created := 0
	ts := start

	var tag *utmTag
	if rand.IntN(10) < 2 {
		tag = &utmTags[rand.IntN(len(utmTags))]
	}

	for i, path := range journey {
		if i > 0 {
			// Ten seconds to two minutes between pages keeps the whole
			// journey inside one session window.
			ts = ts.Add(time.Duration(10+rand.IntN(110)) * time.Second)
		}

		payload := events.IngestPayload{
			SiteID:       site.ID,
			VisitorID:    visitorID,
			SessionID:    sessionID,
			EventType:    string(events.EventTypePageView),
			Timestamp:    ts.Format(time.RFC3339),
			URL:          fmt.Sprintf("https://%s%s", site.Domain, path),
			ScreenWidth:  1920,
			ScreenHeight: 1080,
			Language:     "en-US",
		}

		// External referrer and campaign tags belong to the entry page only.
		if i == 0 {
			payload.Referrer = referrer
			if tag != nil {
				payload.UTMSource = tag.source
				payload.UTMMedium = tag.medium
				payload.UTMCampaign = tag.campaign
			}
		}

		if err := s.collect(payload, ip, userAgent); err != nil {
			s.Logger.Error("Failed to collect event during seeding", slog.Any("error", err))
		} else {
			created++
		}
	}

	lastURL := fmt.Sprintf("https://%s%s", site.Domain, journey[len(journey)-1])
	ts = ts.Add(time.Duration(5+rand.IntN(55)) * time.Second)

	switch roll := rand.Float64(); {
	case roll < 0.10:
		payload := events.IngestPayload{
			SiteID:    site.ID,
			VisitorID: visitorID,
			SessionID: sessionID,
			EventType: string(events.EventTypeGoal),
			EventName: goalNames[rand.IntN(len(goalNames))],
			Timestamp: ts.Format(time.RFC3339),
			URL:       lastURL,
		}
		if err := s.collect(payload, ip, userAgent); err == nil {
			created++
		}
	case roll < 0.16:
		amount := purchaseAmounts[rand.IntN(len(purchaseAmounts))]
		payload := events.IngestPayload{
			SiteID:    site.ID,
			VisitorID: visitorID,
			SessionID: sessionID,
			EventType: string(events.EventTypeRevenue),
			EventName: "purchase",
			Revenue:   &amount,
			Currency:  "USD",
			Timestamp: ts.Format(time.RFC3339),
			URL:       lastURL,
		}
		if err := s.collect(payload, ip, userAgent); err == nil {
			created++
		}
	case roll < 0.30:
		payload := events.IngestPayload{
			SiteID:    site.ID,
			VisitorID: visitorID,
			SessionID: sessionID,
			EventType: string(events.EventTypeCustom),
			EventName: "cta_click",
			EventData: json.RawMessage(`{"section":"hero"}`),
			Timestamp: ts.Format(time.RFC3339),
			URL:       lastURL,
		}
		if err := s.collect(payload, ip, userAgent); err == nil {
			created++
		}
	}

	return created
}

// collect marshals a payload and pushes it through the normal ingestion path
// so seeded data exercises exactly what production traffic does.
func (s *Seeder) collect(payload events.IngestPayload, ip, userAgent string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return events.CollectEvent(s.DBManager, s.Logger, s.normalizer, &events.CollectInput{
		Body:      body,
		RemoteIP:  ip,
		UserAgent: userAgent,
	})
}

// processAllEvents promotes everything the generation staged.
func (s *Seeder) processAllEvents() error {
	result, err := events.ProcessStagedEvents(s.DBManager, s.Logger, processorBatchSize)
	if err != nil {
		return fmt.Errorf("failed during event processing: %w", err)
	}
	s.Logger.Info("Event processing step completed",
		slog.Int("promoted", len(result.ProcessedEvents)),
		slog.Int("bots_skipped", result.SkippedBots),
		slog.Int("payments_derived", result.DerivedPayments))
	return nil
}

// generateIPPool creates a pool of unique IPv4 addresses.
func generateIPPool(count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(255)+1, rand.IntN(256), rand.IntN(256), rand.IntN(256))
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// seedUserAgents returns a list of common user agent strings. The bot and
// curl entries are deliberate so seeded data exercises bot filtering.
func seedUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
		"curl/7.81.0",
	}
}

// seedReferrers returns a list of common referrer URLs.
func seedReferrers() []string {
	return []string{
		"", // direct visit
		"",
		"https://www.google.com/search",
		"https://www.bing.com/search",
		"https://duckduckgo.com/",
		"https://www.facebook.com/",
		"https://t.co/abc123",
		"https://www.linkedin.com/feed/",
		"https://github.com/",
		"https://news.ycombinator.com/",
		"android-app://com.google.android.gm",
	}
}
