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

func TestEventsIndexAction(t *testing.T) {
	t.Run("pages through events newest first", func(t *testing.T) {
		fx := newSiteFixture(t)

		base := time.Now().UTC().Add(-48 * time.Hour)
		total := events.DefaultEventPageSize + 2
		for i := 0; i < total; i++ {
			testsupport.CreatePageView(t, fx.db, fx.site.ID,
				fmt.Sprintf("v%d", i), fmt.Sprintf("s%d", i),
				fmt.Sprintf("/page-%d", i), base.Add(time.Duration(i)*time.Minute))
		}

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/events", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		pageOne := body["events"].([]interface{})
		require.Len(t, pageOne, events.DefaultEventPageSize)

		newest := pageOne[0].(map[string]interface{})
		assert.Equal(t, fmt.Sprintf("/page-%d", total-1), newest["path"],
			"the most recent event leads the page")

		pagination := body["pagination"].(map[string]interface{})
		assert.Equal(t, float64(1), pagination["current_page"])
		assert.Equal(t, float64(2), pagination["total_pages"])
		assert.Equal(t, float64(total), pagination["total_items"])
		assert.Equal(t, float64(events.DefaultEventPageSize), pagination["per_page"])

		reqTwo := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/events?page=2", fx.site.ID), fx.user.APIKey, nil)
		respTwo, err := fx.app.Test(reqTwo, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, respTwo.StatusCode)

		bodyTwo := decodeBody(t, respTwo)
		pageTwo := bodyTwo["events"].([]interface{})
		require.Len(t, pageTwo, 2)

		oldest := pageTwo[1].(map[string]interface{})
		assert.Equal(t, "/page-0", oldest["path"])
	})

	t.Run("filters by event type and name", func(t *testing.T) {
		fx := newSiteFixture(t)

		now := time.Now().UTC()
		testsupport.CreatePageView(t, fx.db, fx.site.ID, "v1", "s1", "/", now.Add(-3*time.Hour))
		testsupport.CreateCustomEvent(t, fx.db, fx.site.ID, "v1", "s1", "signup", now.Add(-2*time.Hour))
		testsupport.CreateCustomEvent(t, fx.db, fx.site.ID, "v2", "s2", "upgrade", now.Add(-time.Hour))

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/events?type=event&event_name=signup", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		listed := body["events"].([]interface{})
		require.Len(t, listed, 1)

		entry := listed[0].(map[string]interface{})
		assert.Equal(t, "event", entry["event_type"])
		assert.Equal(t, "signup", entry["event_name"])
		assert.Equal(t, "v1", entry["visitor_id"])
	})

	t.Run("filters by path substring", func(t *testing.T) {
		fx := newSiteFixture(t)

		now := time.Now().UTC()
		testsupport.CreatePageView(t, fx.db, fx.site.ID, "v1", "s1", "/docs/getting-started", now.Add(-2*time.Hour))
		testsupport.CreatePageView(t, fx.db, fx.site.ID, "v2", "s2", "/docs/api", now.Add(-time.Hour))
		testsupport.CreatePageView(t, fx.db, fx.site.ID, "v3", "s3", "/pricing", now.Add(-time.Hour))

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/events?path=/docs", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		listed := body["events"].([]interface{})
		assert.Len(t, listed, 2)
	})

	t.Run("raw payloads stay out of the log", func(t *testing.T) {
		fx := newSiteFixture(t)

		testsupport.CreatePageView(t, fx.db, fx.site.ID, "v1", "s1", "/", time.Now().UTC().Add(-time.Hour))

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/events", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)

		body := decodeBody(t, resp)
		listed := body["events"].([]interface{})
		require.Len(t, listed, 1)

		entry := listed[0].(map[string]interface{})
		assert.NotContains(t, entry, "raw_payload")
		assert.NotContains(t, entry, "remote_ip")
		assert.NotContains(t, entry, "user_agent")
	})

	t.Run("the log never crosses tenants", func(t *testing.T) {
		fx := newSiteFixture(t)

		stranger := testsupport.CreateTestUser(t, fx.db, "stranger@example.com")
		foreign := testsupport.CreateTestSite(t, fx.db, stranger.ID, "stranger.example.com")
		testsupport.CreatePageView(t, fx.db, foreign.ID, "fv1", "fs1", "/secret", time.Now().UTC().Add(-time.Hour))

		req := authedRequest(t, "GET", fmt.Sprintf("/api/v1/sites/%d/events", fx.site.ID), fx.user.APIKey, nil)
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		listed := body["events"].([]interface{})
		assert.Empty(t, listed)
	})
}
