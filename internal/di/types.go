// Package di wires the harvester's components together.
package di

import (
	"github.com/aristath/harvester/internal/clientdata"
	"github.com/aristath/harvester/internal/clients/alphavantage"
	"github.com/aristath/harvester/internal/config"
	"github.com/aristath/harvester/internal/credentials"
	"github.com/aristath/harvester/internal/database"
	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/aristath/harvester/internal/metrics"
	"github.com/aristath/harvester/internal/reliability"
	"github.com/aristath/harvester/internal/scheduler"
)

// Container holds all dependencies for the application.
// It is created by Wire and is the single source of truth for service instances.
type Container struct {
	Config *config.Config

	// Storage
	DB         *database.DB
	Repository *clientdata.Repository

	// Collaborators
	Rotator  domain.IdentityRotator
	Minter   domain.Minter
	KeyStore domain.KeyStore
	Client   *alphavantage.Client

	// Harvest
	Pool     *credentials.Pool
	Metrics  *metrics.Collector
	Executor *harvest.Executor
	Runner   *harvest.Runner

	// Optional: nil when BACKUP_S3_BUCKET is unset
	Backup *reliability.BackupService
}

// JobInstances holds the scheduler jobs for manual triggering
type JobInstances struct {
	Harvest         *scheduler.HarvestJob
	CheckDatabase   *scheduler.CheckDatabaseJob
	SweepLogCleanup *clientdata.CleanupJob
	Backup          *reliability.BackupJob // nil when backups are disabled
}

// Close releases the container's resources
func (c *Container) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
