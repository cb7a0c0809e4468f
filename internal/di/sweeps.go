package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/harvester/internal/checkpoint"
	"github.com/aristath/harvester/internal/clientdata"
	"github.com/aristath/harvester/internal/config"
	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/rs/zerolog"
)

// SymbolSource lists symbols already stored for a kind
type SymbolSource interface {
	StoredSymbols(ctx context.Context, kind domain.ResourceKind) ([]string, error)
}

// ResolveEntities returns the grid entities: the configured tickers, or else
// the symbols already stored in the overview table
func ResolveEntities(ctx context.Context, cfg *config.Config, source SymbolSource) ([]string, error) {
	if len(cfg.Harvest.Tickers) > 0 {
		return cfg.Harvest.Tickers, nil
	}

	symbols, err := source.StoredSymbols(ctx, domain.KindOverview)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no tickers configured: set HARVEST_TICKERS or HARVEST_TICKERS_FILE")
	}
	return symbols, nil
}

func newSweepFactory(container *Container, cfg *config.Config, log zerolog.Logger) harvest.SweepFactory {
	runLog := sweepRunLog{repo: container.Repository}

	return func(ctx context.Context, kind domain.ResourceKind) (*harvest.Sweep, error) {
		entities, err := ResolveEntities(ctx, cfg, container.Repository)
		if err != nil {
			return nil, err
		}

		grid, err := harvest.NewGrid(harvest.GridSpec{
			Kind:     kind,
			Entities: entities,
			Exclude:  cfg.Harvest.Exclude,
			From:     cfg.Harvest.Start,
			To:       cfg.Harvest.End,
			Until:    time.Now(),
		})
		if err != nil {
			return nil, err
		}

		cp := checkpoint.NewFile(cfg.CheckpointPath(kind))
		return harvest.NewSweep(grid, cp, container.Executor, log,
			harvest.WithRunLog(runLog),
			harvest.WithSweepRecorder(container.Metrics),
		), nil
	}
}

// sweepRunLog records sweep summaries in the sweep_runs table
type sweepRunLog struct {
	repo *clientdata.Repository
}

func (l sweepRunLog) RecordSweep(ctx context.Context, s harvest.Summary) error {
	return l.repo.RecordSweep(ctx, SweepRunFromSummary(s))
}

// SweepRunFromSummary flattens a summary into a sweep log row
func SweepRunFromSummary(s harvest.Summary) clientdata.SweepRun {
	return clientdata.SweepRun{
		RunID:         s.RunID,
		Kind:          string(s.Kind),
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
		Resumed:       s.Resumed,
		Completed:     s.Completed,
		Total:         s.Total,
		Stored:        s.Counts[harvest.ResolutionStored],
		AlreadyStored: s.Counts[harvest.ResolutionAlreadyStored],
		NoData:        s.Counts[harvest.ResolutionNoData],
		Abandoned:     s.Counts[harvest.ResolutionAbandoned],
		Minted:        s.Minted,
		NetworkCalls:  s.NetworkCalls,
	}
}
