package clientdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepRetention is how long sweep log rows are kept
const DefaultSweepRetention = 90 * 24 * time.Hour

// CleanupJob prunes old sweep log rows. Harvested payloads are never deleted.
// It should be scheduled to run daily.
type CleanupJob struct {
	repo      *Repository
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewCleanupJob creates a new sweep log cleanup job.
func NewCleanupJob(repo *Repository, retention time.Duration, log zerolog.Logger) *CleanupJob {
	if retention <= 0 {
		retention = DefaultSweepRetention
	}
	return &CleanupJob{
		repo:      repo,
		retention: retention,
		log:       log.With().Str("job", "sweep_log_cleanup").Logger(),
		now:       time.Now,
	}
}

// Run executes the cleanup job
func (j *CleanupJob) Run() error {
	deleted, err := j.repo.DeleteSweepsBefore(context.Background(), j.now().Add(-j.retention))
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete old sweep runs")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Dur("retention", j.retention).
			Msg("Sweep log cleanup completed")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "sweep_log_cleanup"
}
