package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/settings"
	"sitepulse/internal/sites"
)

// IngestPayload is the wire shape accepted by the events endpoint. Unknown
// fields are tolerated; the verbatim body is preserved in RawPayload either
// way, so nothing the tracker sent is lost.
type IngestPayload struct {
	SiteID       uint            `json:"site_id"`
	VisitorID    string          `json:"visitor_id"`
	SessionID    string          `json:"session_id"`
	EventType    string          `json:"event_type"`
	Timestamp    string          `json:"timestamp"`
	URL          string          `json:"url"`
	Path         string          `json:"path"`
	Hostname     string          `json:"hostname"`
	Title        string          `json:"title"`
	Referrer     string          `json:"referrer"`
	Ref          string          `json:"ref"`
	UTMSource    string          `json:"utm_source"`
	UTMMedium    string          `json:"utm_medium"`
	UTMCampaign  string          `json:"utm_campaign"`
	UTMTerm      string          `json:"utm_term"`
	UTMContent   string          `json:"utm_content"`
	EventName    string          `json:"event_name"`
	EventData    json.RawMessage `json:"event_data"`
	Revenue      *float64        `json:"revenue"`
	Amount       *float64        `json:"amount"`
	Currency     string          `json:"currency"`
	ScreenWidth  int             `json:"screen_width"`
	ScreenHeight int             `json:"screen_height"`
	Language     string          `json:"language"`
	Timezone     string          `json:"timezone"`
}

// NormalizerConfig holds the immutable knobs of the normalizer. Now is
// injectable so clock-skew behavior can be pinned in tests.
type NormalizerConfig struct {
	ClockSkew time.Duration
	Now       func() time.Time
}

// Normalizer validates raw ingest payloads into staged events. It is
// stateless and safe for concurrent use.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a Normalizer from a config, filling in defaults.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Normalizer{cfg: cfg}
}

// Normalize turns a raw JSON body into a StagedEvent, enforcing the required
// fields and resolving the tenant. It returns ValidationError for payload
// problems and UnknownTenantError when the site does not resolve.
func (n *Normalizer) Normalize(db *gorm.DB, body []byte) (*StagedEvent, error) {
	var payload IngestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewValidationError("payload", "is not valid JSON")
	}

	if payload.SiteID == 0 {
		return nil, NewValidationError("site_id", "is required")
	}
	if strings.TrimSpace(payload.VisitorID) == "" {
		return nil, NewValidationError("visitor_id", "is required")
	}
	if strings.TrimSpace(payload.SessionID) == "" {
		return nil, NewValidationError("session_id", "is required")
	}

	eventType := EventType(payload.EventType)
	if payload.EventType == "" {
		return nil, NewValidationError("event_type", "is required")
	}
	if !eventType.Valid() {
		return nil, NewValidationError("event_type", fmt.Sprintf("%q is not a known type", payload.EventType))
	}

	timestamp, err := n.normalizeTimestamp(payload.Timestamp)
	if err != nil {
		return nil, err
	}

	if _, err := sites.Resolve(db, payload.SiteID); err != nil {
		var notFound *sites.SiteNotFoundError
		if errors.As(err, &notFound) {
			return nil, NewUnknownTenantError(payload.SiteID)
		}
		return nil, err
	}

	staged := &StagedEvent{
		SiteID:      payload.SiteID,
		VisitorID:   payload.VisitorID,
		SessionID:   payload.SessionID,
		EventType:   eventType,
		Timestamp:   timestamp,
		Title:       payload.Title,
		EventName:   payload.EventName,
		UTMSource:   payload.UTMSource,
		UTMMedium:   payload.UTMMedium,
		UTMCampaign: payload.UTMCampaign,
		UTMTerm:     payload.UTMTerm,
		UTMContent:  payload.UTMContent,
		RawPayload:  append([]byte(nil), body...),
	}

	staged.Path, staged.Hostname = resolveLocation(&payload)
	staged.Referrer = resolveReferrer(&payload)
	fillUTMFromURL(staged, payload.URL)

	if len(payload.EventData) > 0 {
		staged.EventData = append([]byte(nil), payload.EventData...)
	}

	if amount := resolveAmount(&payload); amount != nil {
		staged.RevenueCents = toCents(*amount)
		staged.Currency = strings.ToUpper(strings.TrimSpace(payload.Currency))
		if staged.Currency == "" {
			staged.Currency = DefaultCurrency
		}
	}

	return staged, nil
}

// normalizeTimestamp parses and clamps the event timestamp. Timestamps more
// than ClockSkew in the future are clamped to server time rather than
// rejected, so slightly-wrong client clocks do not lose events.
func (n *Normalizer) normalizeTimestamp(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, NewValidationError("timestamp", "is required")
	}

	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, NewValidationError("timestamp", "must be an ISO-8601 datetime")
	}

	ts = ts.UTC()
	now := n.cfg.Now()
	if ts.After(now.Add(n.cfg.ClockSkew)) {
		return now, nil
	}
	return ts, nil
}

// resolveLocation picks the event path and hostname, preferring explicit
// payload fields over the raw URL. Path defaults to "/".
func resolveLocation(payload *IngestPayload) (path, hostname string) {
	path = payload.Path
	hostname = payload.Hostname

	if payload.URL != "" && (path == "" || hostname == "") {
		if parsed, err := url.Parse(payload.URL); err == nil {
			if path == "" {
				path = parsed.Path
			}
			if hostname == "" {
				hostname = parsed.Hostname()
			}
		}
	}

	if path == "" {
		path = "/"
	}
	return path, strings.ToLower(hostname)
}

// resolveReferrer accepts both the long and short referrer field names the
// tracker has used over time.
func resolveReferrer(payload *IngestPayload) string {
	if payload.Referrer != "" {
		return payload.Referrer
	}
	return payload.Ref
}

// fillUTMFromURL backfills UTM fields from the page URL query string when the
// payload did not carry them explicitly.
func fillUTMFromURL(staged *StagedEvent, rawURL string) {
	if rawURL == "" {
		return
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}

	query := parsed.Query()
	if staged.UTMSource == "" {
		staged.UTMSource = query.Get("utm_source")
	}
	if staged.UTMMedium == "" {
		staged.UTMMedium = query.Get("utm_medium")
	}
	if staged.UTMCampaign == "" {
		staged.UTMCampaign = query.Get("utm_campaign")
	}
	if staged.UTMTerm == "" {
		staged.UTMTerm = query.Get("utm_term")
	}
	if staged.UTMContent == "" {
		staged.UTMContent = query.Get("utm_content")
	}
}

func resolveAmount(payload *IngestPayload) *float64 {
	if payload.Revenue != nil {
		return payload.Revenue
	}
	return payload.Amount
}

// toCents converts a decimal amount to integer cents, rounding half away
// from zero. All revenue arithmetic downstream stays in integer cents.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CollectInput carries a raw ingest request into CollectEvent.
type CollectInput struct {
	Body      []byte
	RemoteIP  string
	UserAgent string
}

// CollectEvent validates and stages a single event. It acknowledges as soon
// as the staged row is durable; classification and enrichment happen later
// in the processor job, which keeps this path cheap under concurrent load.
func CollectEvent(dbManager cartridge.DBManager, logger *slog.Logger, normalizer *Normalizer, input *CollectInput) error {
	excluded, err := settings.IsIPExcluded(input.RemoteIP)
	if err != nil {
		logger.Error("Error checking IP exclusion", slog.Any("error", err))
	} else if excluded {
		logger.Debug("Skipping event for excluded IP", slog.String("ip", input.RemoteIP))
		return nil
	}

	db := dbManager.GetConnection()
	staged, err := normalizer.Normalize(db, input.Body)
	if err != nil {
		return err
	}

	staged.RemoteIP = input.RemoteIP
	staged.UserAgent = input.UserAgent
	staged.CreatedAt = time.Now().UTC()
	staged.Processed = 0

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(staged).Error
	})
	if err != nil {
		logger.Error("Failed to store staged event", slog.Any("error", err))
		return fmt.Errorf("failed to store staged event: %w", err)
	}

	return nil
}
