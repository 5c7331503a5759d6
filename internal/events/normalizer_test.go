package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/events"
	"sitepulse/internal/settings"
	"sitepulse/internal/testsupport"
)

func TestNormalize(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	owner := testsupport.CreateTestUser(t, db, "normalize@example.com")
	site := testsupport.CreateTestSite(t, db, owner.ID, "normalize.example.com")

	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	normalizer := events.NewNormalizer(events.NormalizerConfig{
		ClockSkew: 5 * time.Minute,
		Now:       func() time.Time { return now },
	})

	// payload marshals the default valid body with overrides applied; a nil
	// override removes the field entirely.
	payload := func(t *testing.T, overrides map[string]any) []byte {
		t.Helper()
		fields := map[string]any{
			"site_id":    site.ID,
			"visitor_id": "v1",
			"session_id": "s1",
			"event_type": "pageview",
			"timestamp":  "2024-07-10T11:00:00Z",
			"url":        "https://Normalize.Example.com/pricing?utm_source=newsletter&utm_medium=email",
		}
		for key, value := range overrides {
			if value == nil {
				delete(fields, key)
			} else {
				fields[key] = value
			}
		}
		body, err := json.Marshal(fields)
		require.NoError(t, err)
		return body
	}

	t.Run("accepts a full payload", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, nil))
		require.NoError(t, err)

		assert.Equal(t, site.ID, staged.SiteID)
		assert.Equal(t, "v1", staged.VisitorID)
		assert.Equal(t, "s1", staged.SessionID)
		assert.Equal(t, events.EventTypePageView, staged.EventType)
		assert.Equal(t, time.Date(2024, 7, 10, 11, 0, 0, 0, time.UTC), staged.Timestamp)
		assert.Equal(t, "/pricing", staged.Path, "path is derived from the url")
		assert.Equal(t, "normalize.example.com", staged.Hostname, "hostname is lowercased")
		assert.Equal(t, "newsletter", staged.UTMSource, "utm is backfilled from the url query")
		assert.Equal(t, "email", staged.UTMMedium)
	})

	t.Run("explicit fields win over the url", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{
			"path":       "/override",
			"hostname":   "explicit.example.com",
			"utm_source": "partner",
		}))
		require.NoError(t, err)

		assert.Equal(t, "/override", staged.Path)
		assert.Equal(t, "explicit.example.com", staged.Hostname)
		assert.Equal(t, "partner", staged.UTMSource)
	})

	t.Run("preserves the raw payload verbatim", func(t *testing.T) {
		body := payload(t, map[string]any{"zzz_unknown_field": "kept for forensics"})

		staged, err := normalizer.Normalize(db, body)
		require.NoError(t, err)
		assert.Equal(t, string(body), string(staged.RawPayload))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := normalizer.Normalize(db, []byte("{not json"))
		var validation *events.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "payload", validation.Field)
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		cases := []struct {
			field    string
			override map[string]any
		}{
			{"site_id", map[string]any{"site_id": nil}},
			{"visitor_id", map[string]any{"visitor_id": nil}},
			{"visitor_id", map[string]any{"visitor_id": "   "}},
			{"session_id", map[string]any{"session_id": nil}},
			{"event_type", map[string]any{"event_type": nil}},
			{"timestamp", map[string]any{"timestamp": nil}},
		}

		for _, tc := range cases {
			_, err := normalizer.Normalize(db, payload(t, tc.override))
			var validation *events.ValidationError
			require.ErrorAs(t, err, &validation, "expected a validation error for %s", tc.field)
			assert.Equal(t, tc.field, validation.Field)
		}
	})

	t.Run("rejects unknown event types", func(t *testing.T) {
		_, err := normalizer.Normalize(db, payload(t, map[string]any{"event_type": "teleport"}))
		var validation *events.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "event_type", validation.Field)
	})

	t.Run("accepts every known event type", func(t *testing.T) {
		types := []string{
			"pageview", "event", "goal", "identify", "revenue",
			"engagement", "outbound_click", "download", "search",
		}
		for _, eventType := range types {
			staged, err := normalizer.Normalize(db, payload(t, map[string]any{"event_type": eventType}))
			require.NoError(t, err, "event type %s", eventType)
			assert.Equal(t, events.EventType(eventType), staged.EventType)
		}
	})

	t.Run("unknown site is a tenant error, not a validation error", func(t *testing.T) {
		_, err := normalizer.Normalize(db, payload(t, map[string]any{"site_id": 99999}))
		var unknownTenant *events.UnknownTenantError
		require.ErrorAs(t, err, &unknownTenant)
		assert.Equal(t, uint(99999), unknownTenant.SiteID)
	})

	t.Run("rejects non ISO-8601 timestamps", func(t *testing.T) {
		_, err := normalizer.Normalize(db, payload(t, map[string]any{"timestamp": "July 10th, noonish"}))
		var validation *events.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "timestamp", validation.Field)
	})

	t.Run("timestamps far in the future are clamped to server time", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{
			"timestamp": now.Add(10 * time.Minute).Format(time.RFC3339),
		}))
		require.NoError(t, err)
		assert.True(t, staged.Timestamp.Equal(now), "got %s", staged.Timestamp)
	})

	t.Run("timestamps within the skew allowance are kept", func(t *testing.T) {
		slightly := now.Add(2 * time.Minute)
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{
			"timestamp": slightly.Format(time.RFC3339),
		}))
		require.NoError(t, err)
		assert.True(t, staged.Timestamp.Equal(slightly))
	})

	t.Run("normalizes offsets to UTC", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{
			"timestamp": "2024-07-10T13:00:00+02:00",
		}))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 7, 10, 11, 0, 0, 0, time.UTC), staged.Timestamp)
	})

	t.Run("revenue amounts become integer cents", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{
			"event_type": "revenue",
			"amount":     19.99,
			"currency":   "eur",
		}))
		require.NoError(t, err)
		assert.Equal(t, int64(1999), staged.RevenueCents)
		assert.Equal(t, "EUR", staged.Currency)
	})

	t.Run("revenue field wins over amount", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{
			"event_type": "revenue",
			"revenue":    10.0,
			"amount":     5.0,
		}))
		require.NoError(t, err)
		assert.Equal(t, int64(1000), staged.RevenueCents)
		assert.Equal(t, "USD", staged.Currency, "currency defaults when an amount exists")
	})

	t.Run("no amount means no currency default", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, nil))
		require.NoError(t, err)
		assert.Zero(t, staged.RevenueCents)
		assert.Empty(t, staged.Currency)
	})

	t.Run("path defaults to root", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{"url": nil}))
		require.NoError(t, err)
		assert.Equal(t, "/", staged.Path)
	})

	t.Run("ref is accepted as a referrer alias", func(t *testing.T) {
		staged, err := normalizer.Normalize(db, payload(t, map[string]any{
			"ref": "https://news.ycombinator.com/item?id=1",
		}))
		require.NoError(t, err)
		assert.Equal(t, "https://news.ycombinator.com/item?id=1", staged.Referrer)
	})
}

func TestCollectEvent(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	owner := testsupport.CreateTestUser(t, db, "collect@example.com")
	site := testsupport.CreateTestSite(t, db, owner.ID, "collect.example.com")
	normalizer := events.NewNormalizer(events.NormalizerConfig{})

	body := func(t *testing.T, visitorID string) []byte {
		t.Helper()
		raw, err := json.Marshal(map[string]any{
			"site_id":    site.ID,
			"visitor_id": visitorID,
			"session_id": visitorID + "-s",
			"event_type": "pageview",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"url":        "https://collect.example.com/",
		})
		require.NoError(t, err)
		return raw
	}

	t.Run("stages the event with request metadata", func(t *testing.T) {
		err := events.CollectEvent(dbManager, logger, normalizer, &events.CollectInput{
			Body:      body(t, "c1"),
			RemoteIP:  "203.0.113.5",
			UserAgent: "Mozilla/5.0 Test Browser",
		})
		require.NoError(t, err)

		var staged events.StagedEvent
		require.NoError(t, db.Where("visitor_id = ?", "c1").First(&staged).Error)
		assert.Equal(t, "203.0.113.5", staged.RemoteIP)
		assert.Equal(t, "Mozilla/5.0 Test Browser", staged.UserAgent)
		assert.Equal(t, 0, staged.Processed)
	})

	t.Run("invalid payloads write nothing", func(t *testing.T) {
		err := events.CollectEvent(dbManager, logger, normalizer, &events.CollectInput{
			Body: []byte(`{"visitor_id":"c2"}`),
		})
		var validation *events.ValidationError
		require.ErrorAs(t, err, &validation)

		var count int64
		require.NoError(t, db.Model(&events.StagedEvent{}).Where("visitor_id = ?", "c2").Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("excluded IPs are dropped silently", func(t *testing.T) {
		require.NoError(t, settings.SetupDefaultSettings(db))
		require.NoError(t, settings.SetExcludedIPs(db, "198.51.100.7"))

		err := events.CollectEvent(dbManager, logger, normalizer, &events.CollectInput{
			Body:     body(t, "c3"),
			RemoteIP: "198.51.100.7",
		})
		require.NoError(t, err, "exclusion is an accepted no-op, not an error")

		var count int64
		require.NoError(t, db.Model(&events.StagedEvent{}).Where("visitor_id = ?", "c3").Count(&count).Error)
		assert.Zero(t, count)
	})
}
