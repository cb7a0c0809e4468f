package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/harvester/internal/harvest"
	"github.com/rs/zerolog"
)

// HarvestRunner is the part of harvest.Runner the job needs
type HarvestRunner interface {
	Run(ctx context.Context) ([]harvest.Summary, error)
}

// HarvestJob runs a full harvest, then any follow-up jobs when it completes
type HarvestJob struct {
	ctx    context.Context
	runner HarvestRunner
	after  []Job
	log    zerolog.Logger
}

// NewHarvestJob creates a harvest job bound to ctx; cancelling ctx interrupts the harvest
func NewHarvestJob(ctx context.Context, runner HarvestRunner, log zerolog.Logger, after ...Job) *HarvestJob {
	return &HarvestJob{
		ctx:    ctx,
		runner: runner,
		after:  after,
		log:    log.With().Str("job", "harvest").Logger(),
	}
}

// Name returns the job name
func (j *HarvestJob) Name() string {
	return "harvest"
}

// Run executes the harvest. Overlapping triggers are skipped, not failed.
func (j *HarvestJob) Run() error {
	summaries, err := j.runner.Run(j.ctx)
	switch {
	case errors.Is(err, harvest.ErrAlreadyRunning):
		j.log.Info().Msg("Harvest already in progress, skipping")
		return nil
	case errors.Is(err, context.Canceled):
		j.log.Info().Int("sweeps", len(summaries)).Msg("Harvest interrupted")
		return nil
	case err != nil:
		return fmt.Errorf("harvest failed: %w", err)
	}

	abandoned := 0
	for _, s := range summaries {
		abandoned += len(s.Abandoned)
	}
	j.log.Info().Int("sweeps", len(summaries)).Int("abandoned", abandoned).Msg("Harvest completed")

	var errs []error
	for _, job := range j.after {
		if err := job.Run(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return errors.Join(errs...)
}
