package analytics_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/analytics"
	"sitepulse/internal/testsupport"
)

func TestGetRetention(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	owner := testsupport.CreateTestUser(t, db, "retention@example.com")
	site := testsupport.CreateTestSite(t, db, owner.ID, "retention.example.com")

	// Anchor on a fixed Thursday so the week math is stable: the current
	// week starts 2024-07-15 and cohorts reach back to 2024-05-27.
	now := time.Date(2024, 7, 18, 12, 0, 0, 0, time.UTC)

	// Cohort 2024-07-01: five visitors, two of them back the next week.
	for i := 1; i <= 5; i++ {
		visitorID := fmt.Sprintf("v%d", i)
		testsupport.CreatePageView(t, db, site.ID, visitorID, visitorID+"-s", "/", time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC))
	}
	testsupport.CreatePageView(t, db, site.ID, "v1", "v1-s2", "/", time.Date(2024, 7, 9, 11, 0, 0, 0, time.UTC))
	testsupport.CreatePageView(t, db, site.ID, "v2", "v2-s2", "/", time.Date(2024, 7, 9, 12, 0, 0, 0, time.UTC))

	// Cohort 2024-07-08: three visitors, one back the next week.
	for i := 6; i <= 8; i++ {
		visitorID := fmt.Sprintf("v%d", i)
		testsupport.CreatePageView(t, db, site.ID, visitorID, visitorID+"-s", "/", time.Date(2024, 7, 9, 14, 0, 0, 0, time.UTC))
	}
	testsupport.CreatePageView(t, db, site.ID, "v7", "v7-s2", "/", time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC))

	// A visitor first seen in January is outside the trailing window. Their
	// July activity must not inflate any current cohort.
	testsupport.CreatePageView(t, db, site.ID, "ancient", "a-s1", "/", time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC))
	testsupport.CreatePageView(t, db, site.ID, "ancient", "a-s2", "/", time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC))

	t.Run("cohorts report percent retained per week offset", func(t *testing.T) {
		cohorts, err := analytics.GetRetention(db, site.ID, now)
		require.NoError(t, err)

		require.Len(t, cohorts, 2, "weeks without new visitors are omitted")

		first := cohorts[0]
		assert.Equal(t, "2024-07-01", first.CohortWeek)
		assert.Equal(t, int64(5), first.CohortSize)
		assert.Equal(t, 100, first.Retention[0])
		assert.Equal(t, 40, first.Retention[1], "2 of 5 visitors returned the next week")

		second := cohorts[1]
		assert.Equal(t, "2024-07-08", second.CohortWeek)
		assert.Equal(t, int64(3), second.CohortSize)
		assert.Equal(t, 100, second.Retention[0])
		assert.Equal(t, 33, second.Retention[1], "1 of 3 rounds to the nearest integer")
	})

	t.Run("cohort membership is global first seen", func(t *testing.T) {
		// v1's July 9 visit counts as week-1 retention for the 07-01
		// cohort, it never re-enters the 07-08 cohort.
		cohorts, err := analytics.GetRetention(db, site.ID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), cohorts[1].CohortSize, "returning visitors are not new cohort members")
	})

	t.Run("no events means no cohorts", func(t *testing.T) {
		empty := testsupport.CreateTestSite(t, db, owner.ID, "retention-empty.example.com")

		cohorts, err := analytics.GetRetention(db, empty.ID, now)
		require.NoError(t, err)
		assert.Empty(t, cohorts)
	})

	t.Run("other sites do not leak into cohorts", func(t *testing.T) {
		other := testsupport.CreateTestSite(t, db, owner.ID, "retention-other.example.com")
		testsupport.CreatePageView(t, db, other.ID, "w1", "w1-s", "/", time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC))

		cohorts, err := analytics.GetRetention(db, site.ID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(5), cohorts[0].CohortSize)
	})
}
