// Package v1_test contains tests for the API v1 handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/events"
	"sitepulse/internal/testsupport"
)

func TestCreateEventHandler(t *testing.T) {
	t.Run("accepts a valid event and stages it durably", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		user := testsupport.CreateTestUser(t, db, "owner@example.com")
		site := testsupport.CreateTestSite(t, db, user.ID, "example.com")
		require.NotZero(t, site.ID)

		app := testsupport.CreateMinimalTestApp(t, db)

		payload := map[string]interface{}{
			"site_id":    site.ID,
			"visitor_id": "vis-abc",
			"session_id": "sess-001",
			"event_type": "pageview",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"url":        "https://example.com/pricing?utm_source=newsletter",
			"referrer":   "https://news.ycombinator.com/item?id=1",
			"title":      "Pricing",
		}
		jsonPayload, err := json.Marshal(payload)
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(jsonPayload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Mozilla/5.0 (Test Agent)")
		req.Header.Set("X-Forwarded-For", "203.0.113.7")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)

		if resp.StatusCode != http.StatusCreated {
			respBody, _ := io.ReadAll(resp.Body)
			t.Logf("Response body: %s", string(respBody))
			t.Logf("Response status: %d", resp.StatusCode)
		}
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, float64(http.StatusCreated), respBody["status"])

		var staged []events.StagedEvent
		require.NoError(t, db.Find(&staged).Error)
		require.Len(t, staged, 1, "Expected one staged event")

		assert.Equal(t, site.ID, staged[0].SiteID)
		assert.Equal(t, "vis-abc", staged[0].VisitorID)
		assert.Equal(t, "sess-001", staged[0].SessionID)
		assert.Equal(t, events.EventTypePageView, staged[0].EventType)
		assert.Equal(t, "/pricing", staged[0].Path)
		assert.Equal(t, "newsletter", staged[0].UTMSource)
		assert.Equal(t, "203.0.113.7", staged[0].RemoteIP)
		assert.Equal(t, "Mozilla/5.0 (Test Agent)", staged[0].UserAgent)
		assert.EqualValues(t, 0, staged[0].Processed)
		assert.JSONEq(t, string(jsonPayload), string(staged[0].RawPayload),
			"Raw payload should be preserved verbatim")
	})

	t.Run("prefers the forwarded user agent header when present", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		user := testsupport.CreateTestUser(t, db, "owner@example.com")
		site := testsupport.CreateTestSite(t, db, user.ID, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		jsonPayload, err := json.Marshal(map[string]interface{}{
			"site_id":    site.ID,
			"visitor_id": "vis-proxy",
			"session_id": "sess-proxy",
			"event_type": "pageview",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"url":        "https://example.com/",
		})
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(jsonPayload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "proxy/1.0")
		req.Header.Set("X-Forwarded-User-Agent", "Mozilla/5.0 (Real Browser)")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var staged events.StagedEvent
		require.NoError(t, db.First(&staged).Error)
		assert.Equal(t, "Mozilla/5.0 (Real Browser)", staged.UserAgent)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, "INVALID_EVENT", respBody["code"])

		var count int64
		require.NoError(t, db.Model(&events.StagedEvent{}).Count(&count).Error)
		assert.Zero(t, count, "Nothing should be staged for a rejected payload")
	})

	t.Run("rejects payloads missing required fields", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		user := testsupport.CreateTestUser(t, db, "owner@example.com")
		site := testsupport.CreateTestSite(t, db, user.ID, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		cases := []struct {
			name    string
			mutate  func(map[string]interface{})
			message string
		}{
			{
				name:    "missing visitor id",
				mutate:  func(p map[string]interface{}) { delete(p, "visitor_id") },
				message: "visitor_id",
			},
			{
				name:    "missing session id",
				mutate:  func(p map[string]interface{}) { delete(p, "session_id") },
				message: "session_id",
			},
			{
				name:    "missing event type",
				mutate:  func(p map[string]interface{}) { delete(p, "event_type") },
				message: "event_type",
			},
			{
				name:    "unknown event type",
				mutate:  func(p map[string]interface{}) { p["event_type"] = "teleport" },
				message: "event_type",
			},
			{
				name:    "missing timestamp",
				mutate:  func(p map[string]interface{}) { delete(p, "timestamp") },
				message: "timestamp",
			},
			{
				name:    "unparseable timestamp",
				mutate:  func(p map[string]interface{}) { p["timestamp"] = "yesterday" },
				message: "timestamp",
			},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				payload := map[string]interface{}{
					"site_id":    site.ID,
					"visitor_id": "vis-abc",
					"session_id": "sess-001",
					"event_type": "pageview",
					"timestamp":  time.Now().UTC().Format(time.RFC3339),
					"url":        "https://example.com/",
				}
				tc.mutate(payload)

				jsonPayload, err := json.Marshal(payload)
				require.NoError(t, err)

				req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(jsonPayload))
				req.Header.Set("Content-Type", "application/json")

				resp, err := app.Test(req, 30000)
				require.NoError(t, err)
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)

				var respBody map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &respBody))
				assert.Equal(t, "INVALID_EVENT", respBody["code"])
				assert.Contains(t, respBody["error"], tc.message)
			})
		}
	})

	t.Run("returns 404 for an unknown site", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		// No sites registered at all.
		app := testsupport.CreateMinimalTestApp(t, db)

		jsonPayload, err := json.Marshal(map[string]interface{}{
			"site_id":    9999,
			"visitor_id": "vis-abc",
			"session_id": "sess-001",
			"event_type": "pageview",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"url":        "https://stranger.com/",
		})
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(jsonPayload))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, "site not found", respBody["error"])
		assert.Equal(t, "SITE_NOT_FOUND", respBody["code"])

		var count int64
		require.NoError(t, db.Model(&events.StagedEvent{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("stores revenue events with cents and currency", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		user := testsupport.CreateTestUser(t, db, "owner@example.com")
		site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		jsonPayload, err := json.Marshal(map[string]interface{}{
			"site_id":    site.ID,
			"visitor_id": "vis-buyer",
			"session_id": "sess-buy",
			"event_type": "revenue",
			"event_name": "purchase",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"url":        "https://shop.example.com/checkout/done",
			"revenue":    49.99,
			"currency":   "eur",
		})
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(jsonPayload))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var staged events.StagedEvent
		require.NoError(t, db.First(&staged).Error)
		assert.Equal(t, events.EventTypeRevenue, staged.EventType)
		assert.EqualValues(t, 4999, staged.RevenueCents)
		assert.Equal(t, "EUR", staged.Currency)
	})
}

func TestCreateEventBeaconHandler(t *testing.T) {
	t.Run("returns 202 and stages a valid event", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		user := testsupport.CreateTestUser(t, db, "owner@example.com")
		site := testsupport.CreateTestSite(t, db, user.ID, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		jsonPayload, err := json.Marshal(map[string]interface{}{
			"site_id":    site.ID,
			"visitor_id": "vis-leaving",
			"session_id": "sess-done",
			"event_type": "engagement",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"url":        "https://example.com/article",
		})
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/v1/events/beacon", bytes.NewReader(jsonPayload))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var count int64
		require.NoError(t, db.Model(&events.StagedEvent{}).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})

	t.Run("returns 202 even when the payload is invalid", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := httptest.NewRequest("POST", "/api/v1/events/beacon", bytes.NewReader([]byte("{broken")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode,
			"Beacons never surface errors to the unloading page")

		var count int64
		require.NoError(t, db.Model(&events.StagedEvent{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}
