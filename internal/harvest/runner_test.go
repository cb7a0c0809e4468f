package harvest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aristath/harvester/internal/checkpoint"
	"github.com/aristath/harvester/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunnerFixture(t *testing.T) (*executorFixture, SweepFactory) {
	t.Helper()
	f := newExecutorFixture(t, []string{"k1"})
	dir := t.TempDir()

	factory := func(ctx context.Context, kind domain.ResourceKind) (*Sweep, error) {
		grid, err := NewGrid(GridSpec{
			Kind:     kind,
			Entities: []string{"A", "B"},
			From:     domain.Period{Year: 2016, Month: 1},
			To:       domain.Period{Year: 2016, Month: 1},
		})
		if err != nil {
			return nil, err
		}
		cp := checkpoint.NewFile(filepath.Join(dir, string(kind)+"_checkpoint.txt"))
		return NewSweep(grid, cp, f.exec, zerolog.Nop()), nil
	}
	return f, factory
}

func TestRunner_RunsKindsInOrder(t *testing.T) {
	f, factory := newRunnerFixture(t)
	runner := NewRunner([]domain.ResourceKind{domain.KindOverview, domain.KindIntraday}, factory, zerolog.Nop())

	summaries, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summaries, 2)
	assert.Equal(t, domain.KindOverview, summaries[0].Kind)
	assert.Equal(t, domain.KindIntraday, summaries[1].Kind)

	calls := f.fetcher.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, domain.KindOverview, calls[0].Task.Kind)
	assert.Equal(t, domain.KindIntraday, calls[3].Task.Kind)

	status := runner.Status()
	assert.False(t, status.Running)
	assert.Nil(t, status.Current)
	assert.Len(t, status.Last, 2)
}

func TestRunner_RejectsConcurrentRuns(t *testing.T) {
	f, factory := newRunnerFixture(t)
	runner := NewRunner([]domain.ResourceKind{domain.KindOverview}, factory, zerolog.Nop())

	var nestedErr error
	f.fetcher.OnFetch(func(domain.Task) {
		if nestedErr == nil {
			_, nestedErr = runner.Run(context.Background())
			assert.True(t, runner.Running())
			assert.NotNil(t, runner.Status().Current)
		}
	})

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, errors.Is(nestedErr, ErrAlreadyRunning))
	assert.False(t, runner.Running())
}

func TestRunner_StopsOnInterrupt(t *testing.T) {
	_, factory := newRunnerFixture(t)
	runner := NewRunner([]domain.ResourceKind{domain.KindOverview, domain.KindIntraday}, factory, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summaries, err := runner.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, summaries)
}

func TestRunner_FactoryError(t *testing.T) {
	runner := NewRunner([]domain.ResourceKind{domain.KindOverview}, func(context.Context, domain.ResourceKind) (*Sweep, error) {
		return nil, errors.New("no tickers")
	}, zerolog.Nop())

	_, err := runner.Run(context.Background())
	assert.ErrorContains(t, err, "no tickers")
}
