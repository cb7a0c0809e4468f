// Package main is the entry point for the Alpha Vantage harvester.
//
// The harvester sweeps task grids (entity x month, or entity alone) for each
// configured resource kind, persisting every payload to SQLite and resuming
// from a checkpoint after interruption. Credentials are rotated and minted
// as the data source rate-limits them.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aristath/harvester/internal/config"
	"github.com/aristath/harvester/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

// app carries state shared by all commands
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	logFile io.Closer
}

func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resilient Alpha Vantage harvester",
		Long: `Harvester sweeps Alpha Vantage resources into a local SQLite database.
Sweeps resume from per-kind checkpoints and survive rate limits by
rotating, and if configured minting, API keys.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				_ = a.logFile.Close()
			}
		},
	}

	rootCmd.AddCommand(buildRunCommand(a))
	rootCmd.AddCommand(buildServeCommand(a))
	rootCmd.AddCommand(buildStatusCommand(a))
	rootCmd.AddCommand(buildKeysCommand(a))

	return rootCmd
}

// init loads configuration and builds the logger
func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallback := logger.New(logger.Config{Level: "info", Pretty: true, Output: os.Stderr})
		fallback.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	a.cfg = cfg

	logCfg := logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		logCfg.Extra = f
	}

	a.log = logger.New(logCfg)
	logger.SetGlobalLogger(a.log)
	return nil
}
