package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"sitepulse/internal/config"
	"sitepulse/internal/database"
)

const (
	cleanupInterval     = time.Hour
	geoLiteTickInterval = 24 * time.Hour
)

// Scheduler runs the background jobs on their own tickers. The event
// processor is the hot loop; cleanup and the GeoLite refresh run far less
// often.
type Scheduler struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config

	eventProcessor *EventProcessorJob
	cleanupJob     *CleanupJob
	geoLiteJob     *GeoLiteUpdaterJob

	processorTicker *time.Ticker
	cleanupTicker   *time.Ticker
	geoLiteTicker   *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc

	processingMutex sync.Mutex
	isProcessing    bool
	running         bool
	runningMutex    sync.Mutex
}

func NewScheduler(dbManager *database.DBManager, logger *slog.Logger) (*Scheduler, error) {
	if dbManager == nil {
		return nil, fmt.Errorf("dbManager is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	cfg := config.GetConfig()
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		dbManager:      dbManager,
		logger:         logger,
		cfg:            cfg,
		eventProcessor: NewEventProcessorJob(dbManager, logger),
		cleanupJob:     NewCleanupJob(dbManager, logger, cfg),
		geoLiteJob:     NewGeoLiteUpdaterJob(dbManager, logger, cfg),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Start launches all job loops. Implements cartridge.BackgroundWorker.
func (s *Scheduler) Start() error {
	s.runningMutex.Lock()
	if s.running {
		s.runningMutex.Unlock()
		return nil
	}
	s.running = true
	s.runningMutex.Unlock()

	s.logger.Info("Starting background jobs",
		slog.Int("processor_interval_seconds", s.cfg.JobIntervalSeconds))

	go s.startEventProcessingJob()
	go s.startCleanupJob()
	go s.startGeoLiteJob()

	return nil
}

// Stop halts the tickers and cancels any waiting loops. Implements
// cartridge.BackgroundWorker.
func (s *Scheduler) Stop() {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()
	if !s.running {
		return
	}
	s.running = false

	if s.processorTicker != nil {
		s.processorTicker.Stop()
	}
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}
	if s.geoLiteTicker != nil {
		s.geoLiteTicker.Stop()
	}
	s.cancel()

	s.logger.Info("Background jobs stopped")
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Scheduler) IsRunning() bool {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()
	return s.running
}

// ProcessEvents triggers one processor pass outside the ticker. Used by the
// CLI after seeding and in tests.
func (s *Scheduler) ProcessEvents() error {
	return s.executeJobSafely("event_processor", s.eventProcessor.Run)
}

func (s *Scheduler) startEventProcessingJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.processorTicker = time.NewTicker(interval)

	// Drain whatever queued up before the process started.
	if err := s.executeJobSafely("event_processor", s.eventProcessor.Run); err != nil {
		s.logger.Error("Event processing failed", slog.Any("error", err))
	}

	for {
		select {
		case <-s.processorTicker.C:
			if err := s.executeJobSafely("event_processor", s.eventProcessor.Run); err != nil {
				s.logger.Error("Event processing failed", slog.Any("error", err))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) startCleanupJob() {
	s.cleanupTicker = time.NewTicker(cleanupInterval)

	if err := s.cleanupJob.Run(); err != nil {
		s.logger.Error("Cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-s.cleanupTicker.C:
			if err := s.cleanupJob.Run(); err != nil {
				s.logger.Error("Cleanup failed", slog.Any("error", err))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) startGeoLiteJob() {
	// The ticker fires daily but the job itself skips updates newer than a
	// week, so restarts do not re-download.
	s.geoLiteTicker = time.NewTicker(geoLiteTickInterval)

	if err := s.geoLiteJob.Run(); err != nil {
		s.logger.Error("GeoLite update failed", slog.Any("error", err))
	}

	for {
		select {
		case <-s.geoLiteTicker.C:
			if err := s.geoLiteJob.Run(); err != nil {
				s.logger.Error("GeoLite update failed", slog.Any("error", err))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// executeJobSafely serializes processor passes so the ticker cannot overlap a
// slow run, and turns panics into errors.
func (s *Scheduler) executeJobSafely(name string, job func() error) (err error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.processingMutex.Unlock()
		s.logger.Debug("Skipping job run, previous run still in progress",
			slog.String("job", name))
		return nil
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()

		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
	}()

	return job()
}
