package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/harvester/internal/clientdata"
	"github.com/aristath/harvester/internal/config"
	"github.com/aristath/harvester/internal/reliability"
	"github.com/aristath/harvester/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs builds the scheduler jobs. Harvests run under ctx.
func RegisterJobs(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Runner == nil {
		return nil, fmt.Errorf("container is not wired")
	}

	instances := &JobInstances{
		CheckDatabase: scheduler.NewCheckDatabaseJob(container.DB, log),
		SweepLogCleanup: clientdata.NewCleanupJob(container.Repository,
			time.Duration(cfg.SweepLogDays)*24*time.Hour, log),
	}

	var after []scheduler.Job
	if container.Backup != nil {
		instances.Backup = reliability.NewBackupJob(container.Backup, cfg.Backup.RetentionDays, log)
		after = append(after, instances.Backup)
	}
	instances.Harvest = scheduler.NewHarvestJob(ctx, container.Runner, log, after...)

	return instances, nil
}

// ScheduleJobs registers the jobs with s on the configured schedules
func ScheduleJobs(s *scheduler.Scheduler, cfg *config.Config, jobs *JobInstances) error {
	if err := s.AddJob(cfg.Schedule, jobs.Harvest); err != nil {
		return err
	}
	if err := s.AddJob(cfg.Maintenance, jobs.CheckDatabase); err != nil {
		return err
	}
	return s.AddJob(cfg.Maintenance, jobs.SweepLogCleanup)
}
