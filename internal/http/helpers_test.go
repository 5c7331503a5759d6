package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitepulse/internal/sites"
	"sitepulse/internal/testsupport"
	"sitepulse/internal/users"
)

// fixture bundles the per-test server with one owner and their first site.
type fixture struct {
	db   *gorm.DB
	app  *fiber.App
	user *users.User
	site *sites.Site
}

func newSiteFixture(t *testing.T) fixture {
	t.Helper()

	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	user := testsupport.CreateTestUser(t, db, "owner@example.com")
	site := testsupport.CreateTestSite(t, db, user.ID, "example.com")

	return fixture{
		db:   db,
		app:  testsupport.CreateMinimalTestApp(t, db),
		user: user,
		site: site,
	}
}

// authedRequest builds a request carrying an API key. A nil payload sends no
// body; anything else is marshaled to JSON.
func authedRequest(t *testing.T, method, target, apiKey string, payload interface{}) *http.Request {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req
}

// decodeBody reads a JSON response body into a generic map.
func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", string(raw))
	return decoded
}

// readBody drains a response body as a string, for comparing raw responses.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}
