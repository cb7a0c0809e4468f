package di

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/aristath/harvester/internal/clientdata"
	"github.com/aristath/harvester/internal/clients/alphavantage"
	"github.com/aristath/harvester/internal/clients/avsignup"
	"github.com/aristath/harvester/internal/config"
	"github.com/aristath/harvester/internal/credentials"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/aristath/harvester/internal/metrics"
	"github.com/aristath/harvester/internal/reliability"
	"github.com/aristath/harvester/internal/vpn"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the persistence collaborators
func InitializeRepositories(container *Container) error {
	if container.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	container.Repository = clientdata.NewRepository(container.DB.Conn())
	return nil
}

// InitializeServices creates the collaborators, the credential pool and the harvest runner.
// Missing credentials are fatal here.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.VPN.Enabled {
		container.Rotator = vpn.NewRotator(vpn.Config{
			Binary:  cfg.VPN.Binary,
			Country: cfg.VPN.Country,
			Settle:  cfg.VPN.Settle,
			Timeout: cfg.VPN.Timeout,
		}, nil, log)
	} else {
		container.Rotator = vpn.Noop{}
	}

	if cfg.Signup.Enabled() {
		minter, err := avsignup.NewMinter(avsignup.Config{
			URL:           cfg.Signup.URL,
			EmailTemplate: cfg.Signup.EmailTemplate,
			FirstName:     cfg.Signup.FirstName,
			LastName:      cfg.Signup.LastName,
			Occupation:    cfg.Signup.Occupation,
			Organization:  cfg.Signup.Organization,
			CSRFToken:     cfg.Signup.CSRFToken,
			KeyLogFile:    cfg.Signup.KeyLogFile,
			BaseIndex:     cfg.Signup.BaseIndex,
			MaxAttempts:   cfg.Signup.MaxEmailAttempts,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create minter: %w", err)
		}
		container.Minter = minter
	} else {
		container.Minter = avsignup.Noop{}
	}

	container.KeyStore = config.NewEnvKeyStore(cfg.EnvFile, cfg.Harvest.KeysVar)

	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}
	pool, err := credentials.NewPool(creds, container.Rotator, container.Minter, log,
		credentials.WithKeyStore(container.KeyStore))
	if err != nil {
		return err
	}
	container.Pool = pool

	container.Client = alphavantage.NewClient(log,
		alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL),
		alphavantage.WithHTTPClient(&http.Client{Timeout: cfg.AlphaVantage.HTTPTimeout}),
		alphavantage.WithMinInterval(cfg.AlphaVantage.MinRequestInterval),
		alphavantage.WithIntradayInterval(cfg.AlphaVantage.IntradayInterval),
	)

	container.Metrics = metrics.NewCollector(nil)
	container.Executor = harvest.NewExecutor(container.Client, container.Repository, container.Pool, log,
		harvest.WithRecorder(container.Metrics))
	container.Runner = harvest.NewRunner(cfg.Harvest.Kinds, newSweepFactory(container, cfg, log), log)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.Backup = reliability.NewBackupService(store, container.DB,
			filepath.Join(cfg.DataDir, "backup-staging"), cfg.Backup.Prefix, log)
	}

	log.Info().
		Int("credentials", container.Pool.Size()).
		Bool("vpn", cfg.VPN.Enabled).
		Bool("minting", cfg.Signup.Enabled()).
		Bool("backups", cfg.Backup.Enabled()).
		Msg("Services initialized")

	return nil
}
