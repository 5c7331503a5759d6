package jobs

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"sitepulse/internal/config"
	"sitepulse/internal/database"
	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/settings"
)

const (
	// MaxMind refreshes GeoLite weekly.
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// Country-level resolution is all the aggregations use, so the small
	// edition is enough.
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-Country&license_key=%s&suffix=tar.gz"

	KeyGeoLiteLastUpdate = "geolite_last_update"
)

// GeoLiteUpdaterJob keeps the GeoIP database fresh. It does nothing until
// MaxMind credentials are stored in settings.
type GeoLiteUpdaterJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewGeoLiteUpdaterJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run downloads a fresh database when the current one is older than the
// update interval. Missing credentials are a no-op, not an error.
func (j *GeoLiteUpdaterJob) Run() error {
	db := j.dbManager.GetConnection()

	accountID, licenseKey, err := settings.GetGeoLiteCredentials(db)
	if err != nil {
		j.logger.Debug("Failed to get GeoLite credentials", slog.Any("error", err))
		return nil
	}
	if accountID == "" || licenseKey == "" {
		j.logger.Debug("GeoLite credentials not configured, skipping update")
		return nil
	}

	lastUpdate := j.getLastUpdateTime()
	if time.Since(lastUpdate) < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate))
		return nil
	}

	j.logger.Info("Updating GeoLite database", slog.Time("last_update", lastUpdate))

	if err := downloadAndExtract(licenseKey, j.cfg.GeoDBPath); err != nil {
		j.logger.Error("Failed to update GeoLite database", slog.Any("error", err))
		return err
	}

	// Reload so the processor resolves countries with the new data at once.
	geoip.ReloadGeoDB()

	if err := j.setLastUpdateTime(time.Now()); err != nil {
		j.logger.Error("Failed to record GeoLite update time", slog.Any("error", err))
	}

	j.logger.Info("GeoLite database updated")
	return nil
}

func (j *GeoLiteUpdaterJob) getLastUpdateTime() time.Time {
	db := j.dbManager.GetConnection()
	raw, err := settings.GetSetting(db, KeyGeoLiteLastUpdate)
	if err != nil || raw == "" {
		return time.Time{}
	}

	lastUpdate, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return lastUpdate
}

func (j *GeoLiteUpdaterJob) setLastUpdateTime(t time.Time) error {
	db := j.dbManager.GetConnection()
	return settings.CreateOrUpdateSetting(db, KeyGeoLiteLastUpdate, t.Format(time.RFC3339))
}

// downloadAndExtract fetches the tarball and writes the contained .mmdb to
// destPath.
func downloadAndExtract(licenseKey, destPath string) error {
	if destPath == "" {
		destPath = filepath.Join("storage", "GeoLite2-Country.mmdb")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	resp, err := http.Get(fmt.Sprintf(MaxMindDownloadURL, licenseKey))
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp("", "geolite-*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		return fmt.Errorf("failed to save download: %w", err)
	}
	if _, err := tempFile.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	return extractMMDB(tempFile, destPath)
}

// extractMMDB pulls the first .mmdb entry out of a tar.gz archive.
func extractMMDB(tarGzFile *os.File, destPath string) error {
	gzr, err := gzip.NewReader(tarGzFile)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		if strings.HasSuffix(header.Name, ".mmdb") {
			outFile, err := os.Create(destPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer outFile.Close()

			if _, err := io.Copy(outFile, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("no .mmdb file found in archive")
}

// DownloadGeoLiteNow performs an immediate download with the stored
// credentials, bypassing the age check. Used right after credentials are
// saved so country resolution starts without waiting a cycle.
func DownloadGeoLiteNow(db *gorm.DB, logger *slog.Logger, cfg *config.Config) error {
	accountID, licenseKey, err := settings.GetGeoLiteCredentials(db)
	if err != nil {
		return fmt.Errorf("failed to read GeoLite credentials: %w", err)
	}
	if accountID == "" || licenseKey == "" {
		return fmt.Errorf("GeoLite credentials not configured")
	}

	logger.Info("Downloading GeoLite database")
	if err := downloadAndExtract(licenseKey, cfg.GeoDBPath); err != nil {
		return err
	}

	geoip.ReloadGeoDB()

	if err := settings.CreateOrUpdateSetting(db, KeyGeoLiteLastUpdate, time.Now().Format(time.RFC3339)); err != nil {
		logger.Error("Failed to record GeoLite update time", slog.Any("error", err))
	}

	logger.Info("GeoLite database downloaded")
	return nil
}

// GetGeoLiteStatus reports whether credentials are stored, whether the
// database file exists, and when it was last refreshed.
func GetGeoLiteStatus(dbManager *database.DBManager) (configured bool, dbExists bool, lastUpdate time.Time) {
	db := dbManager.GetConnection()

	accountID, licenseKey, _ := settings.GetGeoLiteCredentials(db)
	configured = accountID != "" && licenseKey != ""

	cfg := config.GetConfig()
	geoDBPath := cfg.GeoDBPath
	if geoDBPath == "" {
		geoDBPath = filepath.Join("storage", "GeoLite2-Country.mmdb")
	}
	_, err := os.Stat(geoDBPath)
	dbExists = err == nil

	raw, _ := settings.GetSetting(db, KeyGeoLiteLastUpdate)
	if raw != "" {
		lastUpdate, _ = time.Parse(time.RFC3339, raw)
	}

	return
}
