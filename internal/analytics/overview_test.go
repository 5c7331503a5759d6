package analytics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/analytics"
	"sitepulse/internal/events"
	"sitepulse/internal/testsupport"
	"sitepulse/internal/timeframe"
)

func TestDelta(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		expected float64
	}{
		{"growth", 150, 100, 50},
		{"decline", 100, 150, -33.3},
		{"flat", 100, 100, 0},
		{"collapse to zero", 0, 50, -100},
		{"rounds to one decimal", 1003, 300, 234.3},
		{"rounds negative to one decimal", 1, 3, -66.7},
		// Zero baseline reads as flat by convention, not as infinite
		// growth, so a site's first active period never shows +Inf.
		{"zero previous is zero", 42, 0, 0},
		{"both zero", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, analytics.Delta(tt.current, tt.previous))
		})
	}
}

func TestGetOverview(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	owner := testsupport.CreateTestUser(t, db, "overview@example.com")
	site := testsupport.CreateTestSite(t, db, owner.ID, "overview.example.com")
	otherSite := testsupport.CreateTestSite(t, db, owner.ID, "other.example.com")

	tf, err := timeframe.NewTimeFrame(
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	// Current window: 2 visitors, 3 pageviews, 2 sessions, 2 active days.
	testsupport.CreatePageView(t, db, site.ID, "v1", "s1", "/", time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC))
	testsupport.CreatePageView(t, db, site.ID, "v1", "s1", "/about", time.Date(2024, 7, 2, 10, 5, 0, 0, time.UTC))
	testsupport.CreatePageView(t, db, site.ID, "v2", "s2", "/", time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC))

	// Previous window: 1 visitor, 1 pageview, 1 session, 1 active day.
	testsupport.CreatePageView(t, db, site.ID, "v9", "s9", "/", time.Date(2024, 6, 25, 9, 0, 0, 0, time.UTC))

	// Noise that must not count: a custom event inside the window, a
	// pageview outside it, and another site's traffic.
	testsupport.CreateCustomEvent(t, db, site.ID, "v3", "s3", "signup", time.Date(2024, 7, 3, 11, 0, 0, 0, time.UTC))
	testsupport.CreatePageView(t, db, site.ID, "v4", "s4", "/", time.Date(2024, 7, 9, 8, 0, 0, 0, time.UTC))
	testsupport.CreatePageView(t, db, otherSite.ID, "v5", "s5", "/", time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC))

	t.Run("counts pageview activity in the window", func(t *testing.T) {
		overview, err := analytics.GetOverview(db, analytics.NewQueryParams(tf, site.ID))
		require.NoError(t, err)

		assert.Equal(t, int64(2), overview.UniqueVisitors.Value)
		assert.Equal(t, int64(3), overview.Pageviews.Value)
		assert.Equal(t, int64(2), overview.Sessions.Value)
		assert.Equal(t, int64(2), overview.ActiveDays.Value)
	})

	t.Run("deltas compare against the preceding window", func(t *testing.T) {
		overview, err := analytics.GetOverview(db, analytics.NewQueryParams(tf, site.ID))
		require.NoError(t, err)

		assert.Equal(t, float64(100), overview.UniqueVisitors.Delta)
		assert.Equal(t, float64(200), overview.Pageviews.Delta)
		assert.Equal(t, float64(100), overview.Sessions.Delta)
		assert.Equal(t, float64(100), overview.ActiveDays.Delta)
	})

	t.Run("window boundary is half open", func(t *testing.T) {
		// An event exactly at To must fall outside; one exactly at From
		// must fall inside.
		boundary := testsupport.CreateTestSite(t, db, owner.ID, "boundary.example.com")
		testsupport.CreatePageView(t, db, boundary.ID, "b1", "bs1", "/", tf.From)
		testsupport.CreatePageView(t, db, boundary.ID, "b2", "bs2", "/", tf.To)

		overview, err := analytics.GetOverview(db, analytics.NewQueryParams(tf, boundary.ID))
		require.NoError(t, err)
		assert.Equal(t, int64(1), overview.Pageviews.Value)
	})

	t.Run("site with no traffic yields zeros", func(t *testing.T) {
		empty := testsupport.CreateTestSite(t, db, owner.ID, "empty.example.com")

		overview, err := analytics.GetOverview(db, analytics.NewQueryParams(tf, empty.ID))
		require.NoError(t, err)

		assert.Equal(t, int64(0), overview.UniqueVisitors.Value)
		assert.Equal(t, int64(0), overview.Pageviews.Value)
		assert.Equal(t, int64(0), overview.Sessions.Value)
		assert.Equal(t, int64(0), overview.ActiveDays.Value)
		assert.Equal(t, float64(0), overview.Pageviews.Delta)
	})
}

func TestGetOverviewCountsEachEventOnce(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	owner := testsupport.CreateTestUser(t, db, "once@example.com")
	site := testsupport.CreateTestSite(t, db, owner.ID, "once.example.com")

	tf, err := timeframe.NewTimeFrame(
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	// Same visitor, same session, five pageviews: pageviews counts rows,
	// the distinct counts stay at one.
	for i := 0; i < 5; i++ {
		testsupport.CreatePageView(t, db, site.ID, "v1", "s1", "/",
			time.Date(2024, 7, 2, 10, i, 0, 0, time.UTC))
	}

	var total int64
	require.NoError(t, db.Model(&events.Event{}).Where("site_id = ?", site.ID).Count(&total).Error)
	require.Equal(t, int64(5), total)

	overview, err := analytics.GetOverview(db, analytics.NewQueryParams(tf, site.ID))
	require.NoError(t, err)

	assert.Equal(t, int64(5), overview.Pageviews.Value)
	assert.Equal(t, int64(1), overview.UniqueVisitors.Value)
	assert.Equal(t, int64(1), overview.Sessions.Value)
	assert.Equal(t, int64(1), overview.ActiveDays.Value)
}
