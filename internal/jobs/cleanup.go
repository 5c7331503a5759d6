package jobs

import (
	"time"

	"log/slog"

	"gorm.io/gorm"

	"sitepulse/internal/config"
	"sitepulse/internal/database"
	"sitepulse/internal/events"
	"sitepulse/internal/payments"
)

// cleanupBatchSize keeps deletes short so they never hold the write lock
// long enough to stall ingestion.
const cleanupBatchSize = 1000

// cleanupBatchPause is the delay between delete batches.
const cleanupBatchPause = 100 * time.Millisecond

// CleanupJob trims two things: processed staged rows past their short
// retention, and (when configured) events and payments past the long-term
// retention window.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run performs both retention passes. Errors in one pass do not stop the
// other.
func (j *CleanupJob) Run() error {
	if err := j.cleanupStagedEvents(); err != nil {
		j.logger.Error("Staged event cleanup failed", slog.Any("error", err))
	}
	if err := j.cleanupRetainedData(); err != nil {
		j.logger.Error("Retention cleanup failed", slog.Any("error", err))
		return err
	}
	return nil
}

// cleanupStagedEvents deletes processed staged rows older than the staged
// retention period. The raw payloads have served their purpose once the row
// is promoted; keeping them briefly helps debugging, not analytics.
func (j *CleanupJob) cleanupStagedEvents() error {
	retentionDays := j.cfg.StagedEventsRetentionDays
	if retentionDays <= 0 {
		retentionDays = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deleted, err := j.deleteInBatches(func(db *gorm.DB) *gorm.DB {
		return db.Where("processed = 1 AND created_at < ?", cutoff).
			Limit(cleanupBatchSize).
			Delete(&events.StagedEvent{})
	})
	if err != nil {
		return err
	}

	if deleted > 0 {
		j.logger.Info("Cleaned up processed staged events",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// cleanupRetainedData enforces SITEPULSE_DATA_RETENTION_DAYS over events and
// payments. Zero means keep forever.
func (j *CleanupJob) cleanupRetainedData() error {
	retentionDays := j.cfg.DataRetentionDays
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deletedEvents, err := j.deleteInBatches(func(db *gorm.DB) *gorm.DB {
		return db.Where("timestamp < ?", cutoff).
			Limit(cleanupBatchSize).
			Delete(&events.Event{})
	})
	if err != nil {
		return err
	}

	deletedPayments, err := j.deleteInBatches(func(db *gorm.DB) *gorm.DB {
		return db.Where("timestamp < ?", cutoff).
			Limit(cleanupBatchSize).
			Delete(&payments.Payment{})
	})
	if err != nil {
		return err
	}

	if deletedEvents > 0 || deletedPayments > 0 {
		j.logger.Info("Enforced data retention",
			slog.Int("retention_days", retentionDays),
			slog.Int64("events_deleted", deletedEvents),
			slog.Int64("payments_deleted", deletedPayments))
	}
	return nil
}

// deleteInBatches repeats a limited delete until it comes up short, pausing
// between rounds so ingestion writes can interleave.
func (j *CleanupJob) deleteInBatches(deleteBatch func(*gorm.DB) *gorm.DB) (int64, error) {
	db := j.dbManager.GetConnection()
	var total int64

	for {
		result := deleteBatch(db)
		if result.Error != nil {
			return total, result.Error
		}

		total += result.RowsAffected
		if result.RowsAffected < int64(cleanupBatchSize) {
			return total, nil
		}

		time.Sleep(cleanupBatchPause)
	}
}
