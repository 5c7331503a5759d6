package sites_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/events"
	"sitepulse/internal/payments"
	"sitepulse/internal/sites"
	"sitepulse/internal/testsupport"
	"sitepulse/internal/users"
)

func TestCreateSite(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	owner, err := users.CreateUser(db, "owner@example.com", "pw12345678")
	require.NoError(t, err)

	t.Run("normalizes domain", func(t *testing.T) {
		site := &sites.Site{UserID: owner.ID, Domain: "WWW.Example.COM"}
		require.NoError(t, sites.CreateSite(db, site))
		assert.Equal(t, "example.com", site.Domain)
		assert.NotZero(t, site.ID)
	})

	t.Run("keeps subdomains distinct", func(t *testing.T) {
		site := &sites.Site{UserID: owner.ID, Domain: "app.example.com"}
		require.NoError(t, sites.CreateSite(db, site))
		assert.Equal(t, "app.example.com", site.Domain)
	})

	t.Run("rejects missing owner", func(t *testing.T) {
		err := sites.CreateSite(db, &sites.Site{Domain: "ownerless.com"})
		assert.Error(t, err)
	})

	t.Run("rejects empty domain", func(t *testing.T) {
		err := sites.CreateSite(db, &sites.Site{UserID: owner.ID, Domain: "  "})
		assert.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	owner, err := users.CreateUser(db, "resolve@example.com", "pw12345678")
	require.NoError(t, err)

	site := &sites.Site{UserID: owner.ID, Domain: "resolve.example.com"}
	require.NoError(t, sites.CreateSite(db, site))

	t.Run("resolves known site", func(t *testing.T) {
		found, err := sites.Resolve(db, site.ID)
		require.NoError(t, err)
		assert.Equal(t, site.Domain, found.Domain)
	})

	t.Run("unknown site id is rejected", func(t *testing.T) {
		_, err := sites.Resolve(db, 99999)
		var notFound *sites.SiteNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestGetOwnedSite(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	alice, err := users.CreateUser(db, "alice@example.com", "pw12345678")
	require.NoError(t, err)
	bob, err := users.CreateUser(db, "bob@example.com", "pw12345678")
	require.NoError(t, err)

	site := &sites.Site{UserID: alice.ID, Domain: "alice.example.com"}
	require.NoError(t, sites.CreateSite(db, site))

	t.Run("owner can load the site", func(t *testing.T) {
		found, err := sites.GetOwnedSite(db, site.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, site.ID, found.ID)
	})

	t.Run("other user is denied", func(t *testing.T) {
		_, err := sites.GetOwnedSite(db, site.ID, bob.ID)
		var denied *sites.AccessDeniedError
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("unknown site is denied identically", func(t *testing.T) {
		_, missingErr := sites.GetOwnedSite(db, 99999, alice.ID)
		_, foreignErr := sites.GetOwnedSite(db, site.ID, bob.ID)
		require.Error(t, missingErr)
		require.Error(t, foreignErr)
		// The message must not reveal whether the site exists.
		assert.Equal(t, missingErr.Error(), foreignErr.Error())
	})
}

func TestListSitesForUser(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	alice, err := users.CreateUser(db, "alice@example.com", "pw12345678")
	require.NoError(t, err)
	bob, err := users.CreateUser(db, "bob@example.com", "pw12345678")
	require.NoError(t, err)

	require.NoError(t, sites.CreateSite(db, &sites.Site{UserID: alice.ID, Domain: "one.example.com"}))
	require.NoError(t, sites.CreateSite(db, &sites.Site{UserID: alice.ID, Domain: "two.example.com"}))
	require.NoError(t, sites.CreateSite(db, &sites.Site{UserID: bob.ID, Domain: "bob.example.com"}))

	owned, err := sites.ListSitesForUser(db, alice.ID)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "one.example.com", owned[0].Domain)
	assert.Equal(t, "two.example.com", owned[1].Domain)
}

func TestDeleteSiteCascades(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	alice, err := users.CreateUser(db, "alice@example.com", "pw12345678")
	require.NoError(t, err)
	bob, err := users.CreateUser(db, "bob@example.com", "pw12345678")
	require.NoError(t, err)

	doomed := &sites.Site{UserID: alice.ID, Domain: "doomed.example.com"}
	require.NoError(t, sites.CreateSite(db, doomed))
	survivor := &sites.Site{UserID: alice.ID, Domain: "survivor.example.com"}
	require.NoError(t, sites.CreateSite(db, survivor))

	now := time.Now().UTC()
	for _, siteID := range []uint{doomed.ID, survivor.ID} {
		require.NoError(t, db.Create(&events.Event{
			SiteID: siteID, VisitorID: "v1", SessionID: "s1",
			EventType: events.EventTypePageView, Timestamp: now, Path: "/",
			CreatedAt: now,
		}).Error)
		require.NoError(t, db.Create(&events.StagedEvent{
			SiteID: siteID, RawPayload: []byte(`{}`), CreatedAt: now,
		}).Error)
		require.NoError(t, db.Create(&payments.Payment{
			SiteID: siteID, VisitorID: "v1", AmountCents: 1500, Currency: "USD", Timestamp: now,
		}).Error)
	}

	t.Run("foreign user cannot delete", func(t *testing.T) {
		err := sites.DeleteSite(db, doomed.ID, bob.ID)
		var denied *sites.AccessDeniedError
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("owner delete removes the site and its data", func(t *testing.T) {
		require.NoError(t, sites.DeleteSite(db, doomed.ID, alice.ID))

		_, err := sites.Resolve(db, doomed.ID)
		assert.Error(t, err)

		for _, table := range []string{"events", "staged_events", "payments"} {
			var gone, kept int64
			require.NoError(t, db.Table(table).Where("site_id = ?", doomed.ID).Count(&gone).Error)
			require.NoError(t, db.Table(table).Where("site_id = ?", survivor.ID).Count(&kept).Error)
			assert.Zero(t, gone, "%s rows for the deleted site should be gone", table)
			assert.Equal(t, int64(1), kept, "%s rows for other sites must survive", table)
		}
	})
}

func TestListSitesWithStats(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	alice, err := users.CreateUser(db, "alice@example.com", "pw12345678")
	require.NoError(t, err)

	site := &sites.Site{UserID: alice.ID, Domain: "stats.example.com"}
	require.NoError(t, sites.CreateSite(db, site))

	now := time.Now().UTC()
	for i, ts := range []time.Time{now.AddDate(0, 0, -1), now.AddDate(0, 0, -2), now.AddDate(0, 0, -40)} {
		require.NoError(t, db.Create(&events.Event{
			SiteID: site.ID, VisitorID: "v1", SessionID: "s1",
			EventType: events.EventTypePageView, Timestamp: ts, Path: "/",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}).Error)
	}

	listed, err := sites.ListSitesWithStats(db, alice.ID, 30)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(2), listed[0].EventCount, "only events inside the window count")
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Example.COM", "example.com"},
		{"www.example.com", "example.com"},
		{"  www.Example.com  ", "example.com"},
		{"app.example.com", "app.example.com"},
		{"localhost", "localhost"},
	}

	for _, tt := range tests {
		if got := sites.NormalizeDomain(tt.input); got != tt.expected {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestBaseDomainForHost(t *testing.T) {
	tests := []struct {
		host     string
		expected string
	}{
		{"example.com", "example.com"},
		{"app.example.com", "example.com"},
		{"deep.app.example.com", "example.com"},
		{"example.co.uk", "example.co.uk"},
		{"shop.example.co.uk", "example.co.uk"},
		{"blog.example.com.au", "example.com.au"},
		{"localhost", "localhost"},
		{"dev.localhost", "localhost"},
	}

	for _, tt := range tests {
		if got := sites.BaseDomainForHost(tt.host); got != tt.expected {
			t.Errorf("BaseDomainForHost(%q) = %q, want %q", tt.host, got, tt.expected)
		}
	}
}
