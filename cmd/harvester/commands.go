package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aristath/harvester/internal/checkpoint"
	"github.com/aristath/harvester/internal/di"
	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/aristath/harvester/internal/scheduler"
	"github.com/aristath/harvester/internal/server"
	"github.com/spf13/cobra"
)

func buildRunCommand(a *app) *cobra.Command {
	var backup bool

	cmd := &cobra.Command{
		Use:   "run [kinds...]",
		Short: "Run one harvest over the configured (or given) resource kinds",
		Long: `Run sweeps each resource kind in order and exits. Kinds default to
HARVEST_KINDS. An interrupted run resumes from its checkpoint next time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(args)
			if err != nil {
				return err
			}
			return a.runHarvest(kinds, backup)
		},
	}

	cmd.Flags().BoolVar(&backup, "backup", false, "Upload a database backup after a completed harvest")

	return cmd
}

func (a *app) runHarvest(kinds []domain.ResourceKind, backup bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, jobs, err := di.Wire(ctx, a.cfg, a.log)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to wire dependencies")
		return err
	}
	defer container.Close()

	if len(kinds) == 0 {
		kinds = container.Runner.Kinds()
	}

	summaries, err := container.Runner.RunKinds(ctx, kinds)
	printSummaries(summaries)

	if errors.Is(err, context.Canceled) {
		a.log.Warn().Msg("Harvest interrupted, progress is checkpointed")
		return nil
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Harvest failed")
		return err
	}

	if backup {
		if jobs.Backup == nil {
			a.log.Warn().Msg("Backup requested but BACKUP_S3_BUCKET is not set")
			return nil
		}
		return jobs.Backup.Run()
	}
	return nil
}

func buildServeCommand(a *app) *cobra.Command {
	var devMode bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run harvests on a schedule and serve status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(devMode)
		},
	}

	cmd.Flags().BoolVar(&devMode, "dev", false, "Disable response compression")

	return cmd
}

func (a *app) serve(devMode bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, jobs, err := di.Wire(ctx, a.cfg, a.log)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to wire dependencies")
		return err
	}
	defer container.Close()

	sched := scheduler.New(a.log)
	if err := di.ScheduleJobs(sched, a.cfg, jobs); err != nil {
		return err
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:     a.log,
		Addr:    a.cfg.HTTPAddr,
		DevMode: devMode,
		Runner:  container.Runner,
		Pool:    container.Pool,
		Store:   container.Repository,
		DB:      container.DB,
		Usage:   container.Client.Usage,
		NextRun: sched.NextRun,
		Metrics: container.Metrics.Handler(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info().
		Str("addr", a.cfg.HTTPAddr).
		Time("next_run", sched.NextRun()).
		Msg("Harvester started")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Shutting down...")
	case err := <-errCh:
		a.log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Waits for a scheduled harvest to observe ctx and checkpoint
	sched.Stop()

	a.log.Info().Msg("Harvester stopped")
	return nil
}

func buildStatusCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored record counts, checkpoints and recent sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of recent sweeps to show")

	return cmd
}

// status reads the database and checkpoint files only; credentials are not required
func (a *app) status(ctx context.Context, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	container, err := di.InitializeDatabases(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer container.Close()
	if err := di.InitializeRepositories(container); err != nil {
		return err
	}

	counts, err := container.Repository.CountAll(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tRECORDS\tCHECKPOINT")
	for _, kind := range domain.AllKinds {
		position := "-"
		pos, err := checkpoint.NewFile(a.cfg.CheckpointPath(kind)).Load()
		switch {
		case err != nil:
			position = "corrupt"
		case pos != nil:
			position = pos.String()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", kind, counts[kind], position)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	sweeps, err := container.Repository.RecentSweeps(ctx, limit)
	if err != nil {
		return err
	}
	if len(sweeps) == 0 {
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tKIND\tCOMPLETE\tSTORED\tSKIPPED\tNO DATA\tABANDONED\tCALLS")
	for _, s := range sweeps {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%d\t%d\t%d\n",
			s.FinishedAt.Local().Format(time.DateTime), s.Kind, s.Completed,
			s.Stored, s.AlreadyStored, s.NoData, s.Abandoned, s.NetworkCalls)
	}
	return w.Flush()
}

func buildKeysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List configured API keys (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := a.cfg.Credentials()
			if err != nil {
				return err
			}
			for i, c := range creds {
				fmt.Printf("%3d  %s\n", i, c.Mask())
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "mint",
		Short: "Mint one API key and append it to the configured key list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mintKey()
		},
	})

	return cmd
}

func (a *app) mintKey() error {
	if !a.cfg.Signup.Enabled() {
		return fmt.Errorf("minting is disabled: set AV_SIGNUP_EMAIL_TEMPLATE")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, _, err := di.Wire(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer container.Close()

	cred, ok := container.Pool.MintAndSwitch(ctx)
	if !ok {
		return fmt.Errorf("failed to mint a new key")
	}
	fmt.Printf("minted %s, pool now holds %d keys\n", cred.Mask(), container.Pool.Size())
	return nil
}

func parseKinds(args []string) ([]domain.ResourceKind, error) {
	kinds := make([]domain.ResourceKind, 0, len(args))
	for _, arg := range args {
		kind, err := domain.ParseResourceKind(arg)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func printSummaries(summaries []harvest.Summary) {
	if len(summaries) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCOMPLETE\tATTEMPTED\tRESULTS\tCALLS\tMINTED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%t\t%d/%d\t%s\t%d\t%d\n",
			s.Kind, s.Completed, s.Attempted, s.Total, formatCounts(s.Counts), s.NetworkCalls, s.Minted)
	}
	_ = w.Flush()

	for _, s := range summaries {
		for _, t := range s.Abandoned {
			fmt.Printf("abandoned: %s\n", t)
		}
	}
}

func formatCounts(counts map[harvest.Resolution]int) string {
	keys := make([]harvest.Resolution, 0, len(counts))
	for r := range counts {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := ""
	for i, r := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", r, counts[r])
	}
	if out == "" {
		return "-"
	}
	return out
}
