package services

import (
	"context"
	"time"

	"study-analyzer-platform/internal/logger"

	"github.com/go-co-op/gocron"
)

// CleanupScheduler periodically purges expired analyses. The Mongo TTL index
// on expires_at is the backstop; this sweep keeps the deletion observable and
// drops the matching cache entries.
type CleanupScheduler struct {
	scheduler *gocron.Scheduler
	analyses  *AnalysisService
	interval  time.Duration
}

func NewCleanupScheduler(analyses *AnalysisService, interval time.Duration) *CleanupScheduler {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &CleanupScheduler{
		scheduler: s,
		analyses:  analyses,
		interval:  interval,
	}
}

// Start registers the purge job and runs the scheduler in the background.
func (cs *CleanupScheduler) Start() error {
	_, err := cs.scheduler.Every(cs.interval).Tag("analysis-expiry").Do(cs.runPurge)
	if err != nil {
		return err
	}
	cs.scheduler.StartAsync()
	logger.Info("Cleanup scheduler started", "interval", cs.interval.String())
	return nil
}

func (cs *CleanupScheduler) Stop() {
	cs.scheduler.Stop()
}

func (cs *CleanupScheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := cs.analyses.PurgeExpired(ctx)
	if err != nil {
		logger.Error("Expired analysis purge failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("Purged expired analyses", "count", removed)
	}
}
