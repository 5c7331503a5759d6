package jobs

import (
	"time"

	"log/slog"

	"sitepulse/internal/database"
	"sitepulse/internal/events"
	"sitepulse/internal/pkg/metrics"
)

// processorBatchSize is how many staged rows one transaction promotes.
const processorBatchSize = 500

// EventProcessorJob promotes staged events to the analytics log.
type EventProcessorJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
}

func NewEventProcessorJob(dbManager *database.DBManager, logger *slog.Logger) *EventProcessorJob {
	return &EventProcessorJob{
		dbManager: dbManager,
		logger:    logger,
	}
}

// Run drains the staged backlog: classification, enrichment, bot skipping
// and payment derivation all happen inside events.ProcessStagedEvents. Geo
// resolution degrades to "unknown" when no GeoIP database is configured, so
// the job never blocks on it.
func (j *EventProcessorJob) Run() error {
	start := time.Now()
	db := j.dbManager.GetConnection()

	pending, err := events.CountPendingStaged(db)
	if err != nil {
		j.logger.Error("Failed to count staged events", slog.Any("error", err))
		return err
	}
	metrics.SetStagedPending(pending)

	if pending == 0 {
		return nil
	}

	j.logger.Info("Processing staged events", slog.Int64("pending", pending))

	result, err := events.ProcessStagedEvents(j.dbManager, j.logger, processorBatchSize)
	if err != nil {
		j.logger.Error("Failed to process staged events", slog.Any("error", err))
		return err
	}

	promoted := len(result.ProcessedEvents)
	metrics.AddPromoted(promoted)
	metrics.AddBotsSkipped(result.SkippedBots)
	metrics.AddPaymentsRecorded("derived", result.DerivedPayments)
	metrics.ObserveProcessorRun(time.Since(start).Seconds())

	remaining, err := events.CountPendingStaged(db)
	if err == nil {
		metrics.SetStagedPending(remaining)
	}

	j.logger.Info("Staged events processed",
		slog.Int("promoted", promoted),
		slog.Int("bots_skipped", result.SkippedBots),
		slog.Int("payments_derived", result.DerivedPayments),
		slog.Duration("took", time.Since(start)))

	return nil
}
