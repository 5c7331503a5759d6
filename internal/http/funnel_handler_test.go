package http_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/testsupport"
)

func TestFunnelComputeAction(t *testing.T) {
	t.Run("narrows visitors through the stages", func(t *testing.T) {
		fx := newSiteFixture(t)

		now := time.Now().UTC()
		ts := now.Add(-2 * time.Hour)

		// Four visitors land on the pricing page, two sign up, one upgrades.
		for _, visitor := range []string{"v1", "v2", "v3", "v4"} {
			testsupport.CreatePageView(t, fx.db, fx.site.ID, visitor, visitor+"-s", "/pricing", ts)
		}
		testsupport.CreateCustomEvent(t, fx.db, fx.site.ID, "v1", "v1-s", "signup", ts.Add(5*time.Minute))
		testsupport.CreateCustomEvent(t, fx.db, fx.site.ID, "v2", "v2-s", "signup", ts.Add(6*time.Minute))
		testsupport.CreateCustomEvent(t, fx.db, fx.site.ID, "v1", "v1-s", "upgrade", ts.Add(10*time.Minute))
		// A visitor who signed up without ever seeing pricing stays out of
		// every stage past the first.
		testsupport.CreateCustomEvent(t, fx.db, fx.site.ID, "v9", "v9-s", "signup", ts)

		req := authedRequest(t, "POST", fmt.Sprintf("/api/v1/sites/%d/funnel", fx.site.ID), fx.user.APIKey, map[string]interface{}{
			"period": "7d",
			"steps": []map[string]string{
				{"type": "pageview", "value": "/pricing"},
				{"type": "event", "value": "signup"},
				{"type": "event", "value": "upgrade"},
			},
		})
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "7d", body["period"])

		steps := body["steps"].([]interface{})
		require.Len(t, steps, 3)

		first := steps[0].(map[string]interface{})
		assert.Equal(t, "/pricing", first["label"])
		assert.Equal(t, float64(4), first["count"])
		assert.Equal(t, float64(0), first["dropoff"])

		second := steps[1].(map[string]interface{})
		assert.Equal(t, "signup", second["label"])
		assert.Equal(t, float64(2), second["count"])
		assert.Equal(t, float64(50), second["dropoff"])

		third := steps[2].(map[string]interface{})
		assert.Equal(t, "upgrade", third["label"])
		assert.Equal(t, float64(1), third["count"])
		assert.Equal(t, float64(50), third["dropoff"])
	})

	t.Run("rejects a single-step definition", func(t *testing.T) {
		fx := newSiteFixture(t)

		req := authedRequest(t, "POST", fmt.Sprintf("/api/v1/sites/%d/funnel", fx.site.ID), fx.user.APIKey, map[string]interface{}{
			"steps": []map[string]string{
				{"type": "pageview", "value": "/pricing"},
			},
		})
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Contains(t, body["error"], "requires at least 2 steps")
	})

	t.Run("rejects an unknown step type", func(t *testing.T) {
		fx := newSiteFixture(t)

		req := authedRequest(t, "POST", fmt.Sprintf("/api/v1/sites/%d/funnel", fx.site.ID), fx.user.APIKey, map[string]interface{}{
			"steps": []map[string]string{
				{"type": "pageview", "value": "/pricing"},
				{"type": "teleport", "value": "anywhere"},
			},
		})
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Contains(t, body["error"], "unknown type")
	})

	t.Run("rejects an unparseable body", func(t *testing.T) {
		fx := newSiteFixture(t)

		req := authedRequest(t, "POST", fmt.Sprintf("/api/v1/sites/%d/funnel", fx.site.ID), fx.user.APIKey, nil)
		req.Header.Set("Content-Type", "application/json")

		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("funnels never cross tenants", func(t *testing.T) {
		fx := newSiteFixture(t)

		stranger := testsupport.CreateTestUser(t, fx.db, "stranger@example.com")
		foreign := testsupport.CreateTestSite(t, fx.db, stranger.ID, "stranger.example.com")

		now := time.Now().UTC()
		testsupport.CreatePageView(t, fx.db, foreign.ID, "fv1", "fs1", "/pricing", now.Add(-time.Hour))
		testsupport.CreateCustomEvent(t, fx.db, foreign.ID, "fv1", "fs1", "signup", now.Add(-time.Hour))

		req := authedRequest(t, "POST", fmt.Sprintf("/api/v1/sites/%d/funnel", fx.site.ID), fx.user.APIKey, map[string]interface{}{
			"steps": []map[string]string{
				{"type": "pageview", "value": "/pricing"},
				{"type": "event", "value": "signup"},
			},
		})
		resp, err := fx.app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		steps := body["steps"].([]interface{})
		require.Len(t, steps, 2)
		assert.Equal(t, float64(0), steps[0].(map[string]interface{})["count"])
		assert.Equal(t, float64(0), steps[1].(map[string]interface{})["count"])
	})
}
