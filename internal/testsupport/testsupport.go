package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sitepulse/internal"
	"sitepulse/internal/config"
	"sitepulse/internal/database"
	"sitepulse/internal/events"
	"sitepulse/internal/payments"
	"sitepulse/internal/sites"
	"sitepulse/internal/users"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with sitepulse's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with all sitepulse models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	// Check cache first
	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	// Create a unique named in-memory database for each test
	// cache=shared allows multiple connections to the same database
	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// Apply SQLite pragmas
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	// Auto-migrate models
	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	// Cache the database
	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	// Register cleanup
	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()

	// SAFETY CHECK: Ensure we're in test environment
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set SITEPULSE_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	logger := GetLogger()
	dbManager := NewTestDBManager(db)

	return dbManager, logger
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CleanAllTables removes all rows from every table so subtests sharing a
// database start from a blank slate.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateMinimalTestApp builds a fiber app with the full route table mounted
// against the given test database. Handler tests drive it through app.Test.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// Ingestion accepts server-to-server senders, so the browser-only
	// header check stays off.
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// CreateTestUser creates an owner account with an API key for test use
func CreateTestUser(t *testing.T, db *gorm.DB, email string) *users.User {
	t.Helper()

	user, err := users.CreateUser(db, email, "test-password-123")
	require.NoError(t, err)
	return user
}

// CreateTestSite creates a site owned by the given user
func CreateTestSite(t *testing.T, db *gorm.DB, userID uint, domain string) *sites.Site {
	t.Helper()

	site := &sites.Site{UserID: userID, Domain: domain}
	require.NoError(t, sites.CreateSite(db, site))
	return site
}

// InsertEvent inserts a fully specified event directly into the events table
func InsertEvent(t *testing.T, db *gorm.DB, event *events.Event) *events.Event {
	t.Helper()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

// CreatePageView inserts a pageview with sensible defaults for fields most
// tests do not care about
func CreatePageView(t *testing.T, db *gorm.DB, siteID uint, visitorID, sessionID, path string, timestamp time.Time) *events.Event {
	t.Helper()

	return InsertEvent(t, db, &events.Event{
		SiteID:          siteID,
		VisitorID:       visitorID,
		SessionID:       sessionID,
		EventType:       events.EventTypePageView,
		Timestamp:       timestamp.UTC(),
		Path:            path,
		Hostname:        "example.com",
		Source:          "direct",
		Medium:          "none",
		DeviceType:      "desktop",
		Browser:         "chrome",
		OperatingSystem: "macos",
		Country:         "us",
	})
}

// CreateCustomEvent inserts a named custom event
func CreateCustomEvent(t *testing.T, db *gorm.DB, siteID uint, visitorID, sessionID, eventName string, timestamp time.Time) *events.Event {
	t.Helper()

	return InsertEvent(t, db, &events.Event{
		SiteID:          siteID,
		VisitorID:       visitorID,
		SessionID:       sessionID,
		EventType:       events.EventTypeCustom,
		Timestamp:       timestamp.UTC(),
		Path:            "/",
		Hostname:        "example.com",
		Source:          "direct",
		Medium:          "none",
		DeviceType:      "desktop",
		Browser:         "chrome",
		OperatingSystem: "macos",
		Country:         "us",
		EventName:       eventName,
	})
}

// CreateTestPayment inserts a payment row directly
func CreateTestPayment(t *testing.T, db *gorm.DB, siteID uint, visitorID string, amountCents int64, timestamp time.Time) *payments.Payment {
	t.Helper()

	payment := &payments.Payment{
		SiteID:      siteID,
		VisitorID:   visitorID,
		AmountCents: amountCents,
		Currency:    payments.DefaultCurrency,
		Timestamp:   timestamp.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(payment).Error)
	return payment
}
