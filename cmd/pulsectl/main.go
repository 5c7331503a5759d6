// main.go - Admin control tool for sitepulse
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"sitepulse/internal"
	"sitepulse/internal/config"
	"sitepulse/internal/events"
	"sitepulse/internal/jobs"
	"sitepulse/internal/pkg/logging"
	"sitepulse/internal/seeder"
	"sitepulse/internal/settings"
	"sitepulse/internal/sites"
	"sitepulse/internal/users"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations.
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&CreateUserCommand{},
	&ChangePasswordCommand{},
	&RotateKeyCommand{},
	&CreateSiteCommand{},
	&ListSitesCommand{},
	&SeedCommand{},
	&ProcessEventsCommand{},
	&RecentEventsCommand{},
	&SettingsCommand{},
	&MigrateCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

var log *logrus.Logger

func main() {
	flag.Parse()

	log = logging.NewLogger(logging.Config{
		Level:     os.Getenv("SITEPULSE_LOG_LEVEL"),
		Directory: os.Getenv("SITEPULSE_LOG_DIR"),
		FileName:  "pulsectl.log",
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Infof("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Cleanup error: %v", err)
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Infof("Command %s completed", cmd.Name())
}

// CreateUserCommand creates an owner account and prints its API key.
type CreateUserCommand struct{}

func (c *CreateUserCommand) Name() string { return "create-user" }

func (c *CreateUserCommand) Description() string {
	return "Creates an owner account and prints its API key"
}

func (c *CreateUserCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email> [password]", c.Name())
	}
	email := args[0]

	var password string
	if len(args) >= 2 {
		password = args[1]
	} else {
		pwd1, err := promptPassword("Enter password: ")
		if err != nil {
			return err
		}
		pwd2, err := promptPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if pwd1 != pwd2 {
			return fmt.Errorf("passwords do not match")
		}
		password = pwd1
	}

	user, err := users.CreateUser(app.DBManager.GetConnection(), email, password)
	if err != nil {
		if errors.Is(err, users.ErrUserExists) {
			log.Infof("User %s already exists", email)
			return nil
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created user %s\n", user.Email)
	fmt.Printf("API key: %s\n", user.APIKey)
	fmt.Println("Store the key now, it is only shown here and after rotate-key.")
	return nil
}

// ChangePasswordCommand updates the password of an existing owner.
type ChangePasswordCommand struct{}

func (c *ChangePasswordCommand) Name() string { return "change-password" }

func (c *ChangePasswordCommand) Description() string {
	return "Changes the password of an existing owner"
}

func (c *ChangePasswordCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email> [password]", c.Name())
	}
	email := args[0]

	db := app.DBManager.GetConnection()
	if _, err := users.FindByEmail(db, email); err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	var newPassword string
	if len(args) >= 2 {
		newPassword = args[1]
	} else {
		pwd1, err := promptPassword("Enter new password: ")
		if err != nil {
			return err
		}
		pwd2, err := promptPassword("Confirm new password: ")
		if err != nil {
			return err
		}
		if pwd1 != pwd2 {
			return fmt.Errorf("passwords do not match")
		}
		newPassword = pwd1
	}

	if newPassword == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := users.ChangePassword(db, email, newPassword); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Println("Password updated successfully")
	return nil
}

// RotateKeyCommand replaces an owner's API key.
type RotateKeyCommand struct{}

func (c *RotateKeyCommand) Name() string { return "rotate-key" }

func (c *RotateKeyCommand) Description() string {
	return "Rotates an owner's API key, invalidating the old one"
}

func (c *RotateKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email>", c.Name())
	}

	db := app.DBManager.GetConnection()
	user, err := users.FindByEmail(db, args[0])
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	apiKey, err := users.RotateAPIKey(db, user.ID)
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	fmt.Printf("New API key for %s: %s\n", user.Email, apiKey)
	fmt.Println("The previous key stopped working immediately.")
	return nil
}

// CreateSiteCommand registers a site for an owner.
type CreateSiteCommand struct{}

func (c *CreateSiteCommand) Name() string { return "create-site" }

func (c *CreateSiteCommand) Description() string {
	return "Registers a site (domain) for an owner"
}

func (c *CreateSiteCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <email> <domain>", c.Name())
	}

	db := app.DBManager.GetConnection()
	user, err := users.FindByEmail(db, args[0])
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	site := sites.Site{UserID: user.ID, Domain: args[1]}
	if err := sites.CreateSite(db, &site); err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	fmt.Printf("Created site %d (%s) for %s\n", site.ID, site.Domain, user.Email)
	fmt.Printf("Embed: <script defer src=\"/api/v1/tracker.js\" data-site-id=\"%d\"></script>\n", site.ID)
	return nil
}

// ListSitesCommand prints an owner's sites.
type ListSitesCommand struct{}

func (c *ListSitesCommand) Name() string { return "list-sites" }

func (c *ListSitesCommand) Description() string {
	return "Lists the sites owned by a user"
}

func (c *ListSitesCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email>", c.Name())
	}

	db := app.DBManager.GetConnection()
	user, err := users.FindByEmail(db, args[0])
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	siteList, err := sites.ListSitesForUser(db, user.ID)
	if err != nil {
		return err
	}

	if len(siteList) == 0 {
		fmt.Printf("No sites registered for %s\n", user.Email)
		return nil
	}

	fmt.Printf("Sites owned by %s:\n", user.Email)
	for _, site := range siteList {
		fmt.Printf("  %4d  %s  (created %s)\n", site.ID, site.Domain, site.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

// SeedCommand populates the DB with sample traffic.
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample data" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	numEvents := fs.Int("events", 10000, "number of events to generate")
	domain := fs.String("domain", "", "specific domain to seed (seeds all defaults if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), *numEvents)

	if *domain != "" {
		return se.SeedDomain(ctx, *domain)
	}
	return se.Run(ctx)
}

// ProcessEventsCommand drains the staging table outside the ticker.
type ProcessEventsCommand struct{}

func (c *ProcessEventsCommand) Name() string { return "process-events" }

func (c *ProcessEventsCommand) Description() string {
	return "Runs one event processing pass immediately"
}

func (c *ProcessEventsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	pending, err := events.CountPendingStaged(app.DBManager.GetConnection())
	if err != nil {
		return err
	}
	fmt.Printf("Pending staged events: %d\n", pending)

	if err := app.Scheduler.ProcessEvents(); err != nil {
		return err
	}

	remaining, err := events.CountPendingStaged(app.DBManager.GetConnection())
	if err != nil {
		return err
	}
	fmt.Printf("Remaining after pass: %d\n", remaining)
	return nil
}

// RecentEventsCommand tails a site's processed event log.
type RecentEventsCommand struct{}

func (c *RecentEventsCommand) Name() string { return "recent-events" }

func (c *RecentEventsCommand) Description() string {
	return "Shows the most recent processed events for a domain"
}

func (c *RecentEventsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("recent-events", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of events to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s [-limit n] <domain>", c.Name())
	}

	db := app.DBManager.GetConnection()
	site, err := sites.GetSiteByDomain(db, sites.NormalizeDomain(fs.Arg(0)))
	if err != nil {
		return fmt.Errorf("site lookup failed: %w", err)
	}

	page, err := events.GetFilteredEvents(db, events.EventFilters{
		SiteID: site.ID,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Last %d of %d events for %s:\n", len(page.Events), page.Total, site.Domain)
	for _, e := range page.Events {
		line := fmt.Sprintf("  %s  %-10s %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.EventType, e.Path)
		if e.EventName != "" {
			line += "  name=" + e.EventName
		}
		if e.Source != "" {
			line += "  source=" + e.Source
		}
		if e.Country != "" {
			line += "  country=" + e.Country
		}
		fmt.Println(line)
	}
	return nil
}

// SettingsCommand reads and writes runtime settings.
type SettingsCommand struct{}

func (c *SettingsCommand) Name() string { return "settings" }

func (c *SettingsCommand) Description() string {
	return "Reads or updates runtime settings (excluded-ips, geolite)"
}

func (c *SettingsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) == 0 {
		return c.showAll(app)
	}

	switch args[0] {
	case "excluded-ips":
		return c.excludedIPs(app, args[1:])
	case "geolite":
		return c.geolite(app, args[1:])
	default:
		return fmt.Errorf("unknown settings section %q (want excluded-ips or geolite)", args[0])
	}
}

func (c *SettingsCommand) showAll(app *internal.Application) error {
	all, err := settings.GetAllSettingsForDisplay(app.DBManager.GetConnection())
	if err != nil {
		return err
	}
	for _, s := range all {
		fmt.Printf("  %-24s %s\n", s.Key, s.Value)
	}
	return nil
}

func (c *SettingsCommand) excludedIPs(app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	if len(args) == 0 || args[0] == "get" {
		ips, err := settings.GetExcludedIPs(db)
		if err != nil {
			return err
		}
		if ips == "" {
			fmt.Println("No excluded IPs configured")
		} else {
			fmt.Printf("Excluded IPs: %s\n", ips)
		}
		return nil
	}

	if args[0] == "set" {
		if len(args) < 2 {
			return fmt.Errorf("usage: settings excluded-ips set <comma-separated-ips>")
		}
		if err := settings.SetExcludedIPs(db, strings.Join(args[1:], ",")); err != nil {
			return err
		}
		fmt.Println("Excluded IPs updated")
		return nil
	}

	return fmt.Errorf("unknown excluded-ips action %q (want get or set)", args[0])
}

func (c *SettingsCommand) geolite(app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	if len(args) == 0 || args[0] == "status" {
		configured, dbExists, lastUpdate := jobs.GetGeoLiteStatus(app.DBManager)
		fmt.Printf("Credentials configured: %t\n", configured)
		fmt.Printf("Database file present:  %t\n", dbExists)
		if lastUpdate.IsZero() {
			fmt.Println("Last update:            never")
		} else {
			fmt.Printf("Last update:            %s\n", lastUpdate.Format(time.RFC3339))
		}
		return nil
	}

	switch args[0] {
	case "credentials":
		if len(args) < 3 {
			return fmt.Errorf("usage: settings geolite credentials <account_id> <license_key>")
		}
		if err := settings.SaveGeoLiteCredentials(db, args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("GeoLite credentials saved, downloading database...")
		return jobs.DownloadGeoLiteNow(db, slog.Default(), config.GetConfig())
	case "download":
		return jobs.DownloadGeoLiteNow(db, slog.Default(), config.GetConfig())
	default:
		return fmt.Errorf("unknown geolite action %q (want status, credentials or download)", args[0])
	}
}

// MigrateCommand runs database migrations.
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Info("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("Migrations completed successfully")
	return nil
}

// StatusCommand reports counts and connection health.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	counts := []struct {
		label string
		model any
	}{
		{"Users", &users.User{}},
		{"Sites", &sites.Site{}},
		{"Events", &events.Event{}},
	}

	fmt.Println("System Status:")
	fmt.Println("- Database: Connected")
	for _, row := range counts {
		var n int64
		if err := db.Model(row.model).Count(&n).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		fmt.Printf("- %s: %d\n", row.label, n)
	}

	pending, err := events.CountPendingStaged(db)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	fmt.Printf("- Staged events pending: %d\n", pending)

	configured, dbExists, _ := jobs.GetGeoLiteStatus(app.DBManager)
	fmt.Printf("- GeoLite configured: %t, database present: %t\n", configured, dbExists)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	fmt.Printf("- Open Connections: %d (max %d)\n",
		sqlDB.Stats().OpenConnections, sqlDB.Stats().MaxOpenConnections)

	return nil
}

// HelpCommand shows usage information.
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// parseArgs parses the command name and arguments.
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name.
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: pulsectl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
