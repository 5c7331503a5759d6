package http_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/events"
	"sitepulse/internal/testsupport"
)

func TestRevenueIndexAction(t *testing.T) {
	t.Run("attributes payments to the payer's latest source", func(t *testing.T) {
		fx := newSiteFixture(t)

		now := time.Now().UTC()

		// v1 arrived from google, then paid twice.
		testsupport.InsertEvent(t, fx.db, &events.Event{
			SiteID: fx.site.ID, VisitorID: "v1", SessionID: "s1",
			EventType: events.EventTypePageView, Timestamp: now.Add(-5 * time.Hour),
			Path: "/", Hostname: "example.com",
			Source: "google", Medium: "organic",
			DeviceType: "desktop", Browser: "chrome", OperatingSystem: "macos", Country: "us",
		})
		testsupport.CreateTestPayment(t, fx.db, fx.site.ID, "v1", 2500, now.Add(-4*time.Hour))
		testsupport.CreateTestPayment(t, fx.db, fx.site.ID, "v1", 1500, now.Add(-3*time.Hour))

		// A payment with no tracked visitor lands in the unknown bucket.
		testsupport.CreateTestPayment(t, fx.db, fx.site.ID, "", 990, now.Add(-2*time.Hour))

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/revenue?period=7d", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "7d", body["period"])

		revenue := body["revenue"].(map[string]interface{})
		assert.Equal(t, float64(4990), revenue["total_cents"])
		assert.Equal(t, float64(3), revenue["total_payments"])

		bySource := revenue["by_source"].([]interface{})
		require.Len(t, bySource, 2)

		first := bySource[0].(map[string]interface{})
		assert.Equal(t, "google", first["source"])
		assert.Equal(t, float64(4000), first["revenue_cents"])
		assert.Equal(t, float64(2), first["payments"])

		second := bySource[1].(map[string]interface{})
		assert.Equal(t, "unknown", second["source"])
		assert.Equal(t, float64(990), second["revenue_cents"])
	})

	t.Run("attribution uses the source known at payment time", func(t *testing.T) {
		fx := newSiteFixture(t)

		now := time.Now().UTC()

		// First visit from twitter, payment, then a later visit from google.
		// The payment keeps the twitter attribution.
		testsupport.InsertEvent(t, fx.db, &events.Event{
			SiteID: fx.site.ID, VisitorID: "v1", SessionID: "s1",
			EventType: events.EventTypePageView, Timestamp: now.Add(-6 * time.Hour),
			Path: "/", Hostname: "example.com",
			Source: "twitter", Medium: "social",
			DeviceType: "desktop", Browser: "chrome", OperatingSystem: "macos", Country: "us",
		})
		testsupport.CreateTestPayment(t, fx.db, fx.site.ID, "v1", 5000, now.Add(-5*time.Hour))
		testsupport.InsertEvent(t, fx.db, &events.Event{
			SiteID: fx.site.ID, VisitorID: "v1", SessionID: "s2",
			EventType: events.EventTypePageView, Timestamp: now.Add(-1 * time.Hour),
			Path: "/", Hostname: "example.com",
			Source: "google", Medium: "organic",
			DeviceType: "desktop", Browser: "chrome", OperatingSystem: "macos", Country: "us",
		})

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/revenue", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		revenue := body["revenue"].(map[string]interface{})
		bySource := revenue["by_source"].([]interface{})
		require.Len(t, bySource, 1)
		assert.Equal(t, "twitter", bySource[0].(map[string]interface{})["source"])
	})

	t.Run("revenue never crosses tenants", func(t *testing.T) {
		fx := newSiteFixture(t)

		stranger := testsupport.CreateTestUser(t, fx.db, "stranger@example.com")
		foreign := testsupport.CreateTestSite(t, fx.db, stranger.ID, "stranger.example.com")
		testsupport.CreateTestPayment(t, fx.db, foreign.ID, "fv1", 99999, time.Now().UTC().Add(-time.Hour))

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/revenue", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		revenue := body["revenue"].(map[string]interface{})
		assert.Equal(t, float64(0), revenue["total_cents"])
		assert.Equal(t, float64(0), revenue["total_payments"])
		assert.Empty(t, revenue["by_source"])
	})
}
