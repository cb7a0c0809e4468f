package harvest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aristath/harvester/internal/checkpoint"
	"github.com/aristath/harvester/internal/credentials"
	"github.com/aristath/harvester/internal/domain"
	testingpkg "github.com/aristath/harvester/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweepFixture struct {
	*executorFixture
	grid *Grid
	cp   *checkpoint.File
}

func newSweepFixture(t *testing.T, keys []string, minted ...domain.Credential) *sweepFixture {
	t.Helper()
	return &sweepFixture{
		executorFixture: newExecutorFixture(t, keys, minted...),
		grid:            monthlyGrid(t, "A", "B"),
		cp:              checkpoint.NewFile(filepath.Join(t.TempDir(), "intraday_checkpoint.txt")),
	}
}

func (f *sweepFixture) sweep(opts ...SweepOption) *Sweep {
	return NewSweep(f.grid, f.cp, f.exec, zerolog.Nop(), opts...)
}

func task(entity string, month int) domain.Task {
	return testingpkg.MonthlyTask(domain.KindIntraday, entity, 2016, month)
}

func TestSweep_CompletesAndClearsCheckpoint(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})

	summary, err := f.sweep().Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Completed)
	assert.False(t, summary.Resumed)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.Attempted)
	assert.Equal(t, 4, summary.Counts[ResolutionStored])
	assert.NotEmpty(t, summary.RunID)
	assert.NoFileExists(t, f.cp.Path())
	assert.Equal(t, 4, f.store.Len())
}

func TestSweep_Idempotent(t *testing.T) {
	f := newSweepFixture(t, []string{"k1", "k2"})

	_, err := f.sweep().Run(context.Background())
	require.NoError(t, err)
	firstCalls := len(f.fetcher.Calls())

	summary, err := f.sweep().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, firstCalls, len(f.fetcher.Calls()), "second run must not hit the network")
	assert.Equal(t, 4, summary.Counts[ResolutionAlreadyStored])
	for _, entity := range []string{"A", "B"} {
		for month := 1; month <= 2; month++ {
			assert.Equal(t, 1, f.store.Writes(task(entity, month)))
		}
	}
}

// Crash after the first task, then restart: the checkpointed task is
// re-attempted but only existence-checked.
func TestSweep_ResumeAfterCrash(t *testing.T) {
	f := newSweepFixture(t, []string{"k1", "k2"})
	a1 := task("A", 1)
	f.fetcher.Script(a1, domain.RateLimited(errors.New("Note")), domain.Success(testingpkg.SamplePayload))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f.fetcher.OnFetch(func(tk domain.Task) {
		calls++
		if tk.Key() == a1.Key() && calls == 2 {
			cancel()
		}
	})

	summary, err := f.sweep().Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, summary.Completed)
	assert.Equal(t, testingpkg.Credentials("k1", "k2"), f.fetcher.CallsFor(a1))

	pos, err := f.cp.Load()
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.Position{Entity: "A", Year: 2016, Month: 1}, *pos)

	// Restart
	f.fetcher.OnFetch(nil)
	summary, err = f.sweep().Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Resumed)
	assert.Equal(t, 2, len(f.fetcher.CallsFor(a1)), "A@2016-01 is not fetched again")
	assert.Equal(t, 1, summary.Counts[ResolutionAlreadyStored])
	assert.Equal(t, 3, summary.Counts[ResolutionStored])
	assert.Len(t, f.fetcher.CallsFor(task("A", 2)), 1)
	assert.NoFileExists(t, f.cp.Path())
}

func TestSweep_ResumeSkipsEarlierTasks(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})
	require.NoError(t, f.cp.Save(domain.Position{Entity: "B", Year: 2016, Month: 1}))

	summary, err := f.sweep().Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.fetcher.CallsFor(task("A", 1)))
	assert.Empty(t, f.fetcher.CallsFor(task("A", 2)))
	assert.Len(t, f.fetcher.CallsFor(task("B", 1)), 1)
	assert.Len(t, f.fetcher.CallsFor(task("B", 2)), 1)
	assert.Equal(t, 2, summary.Attempted)
	require.NotNil(t, summary.ResumeFrom)
	assert.Equal(t, "B", summary.ResumeFrom.Entity)
}

// Pool exhausted for the last task; minting grows the pool for good.
func TestSweep_MintOnExhaustion(t *testing.T) {
	f := newSweepFixture(t, []string{"k1", "k2"}, "k3")
	b2 := task("B", 2)
	f.fetcher.Script(b2, domain.Transient(errors.New("reset")), domain.Transient(errors.New("reset")), domain.Success(testingpkg.SamplePayload))

	summary, err := f.sweep().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, f.pool.Size())
	assert.Equal(t, 1, summary.Minted)
	assert.Equal(t, 4, summary.Counts[ResolutionStored])
	assert.True(t, f.store.Has(b2))
	assert.Equal(t, domain.Credential("k3"), f.fetcher.CallsFor(b2)[2])
}

func TestSweep_AbandonedTaskDoesNotStopRun(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})
	a1 := task("A", 1)
	f.fetcher.Script(a1, domain.RateLimited(nil))

	summary, err := f.sweep().Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Completed)
	assert.Equal(t, 1, summary.Counts[ResolutionAbandoned])
	assert.Equal(t, 3, summary.Counts[ResolutionStored])
	require.Len(t, summary.Abandoned, 1)
	assert.Equal(t, a1.Key(), summary.Abandoned[0].Key())
	assert.NoFileExists(t, f.cp.Path())
}

func TestSweep_CorruptCheckpointStartsFresh(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})
	require.NoError(t, os.WriteFile(f.cp.Path(), []byte("garbage,,"), 0644))

	summary, err := f.sweep().Run(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.Resumed)
	assert.Equal(t, 4, summary.Attempted)
	assert.True(t, summary.Completed)
}

type flakyCheckpoint struct {
	mu      sync.Mutex
	saves   []domain.Position
	cleared bool
}

func (c *flakyCheckpoint) Load() (*domain.Position, error) { return nil, nil }
func (c *flakyCheckpoint) Save(pos domain.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves = append(c.saves, pos)
	return errors.New("disk full")
}
func (c *flakyCheckpoint) Clear() error {
	c.cleared = true
	return nil
}

func TestSweep_CheckpointSavedAfterEveryTaskEvenWhenFailing(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})
	cp := &flakyCheckpoint{}

	summary, err := NewSweep(f.grid, cp, f.exec, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Completed)
	assert.Len(t, cp.saves, 4)
	assert.Equal(t, domain.Position{Entity: "B", Year: 2016, Month: 2}, cp.saves[3])
	assert.True(t, cp.cleared)
}

func TestSweep_FatalPoolErrorPropagates(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})
	exec := NewExecutor(f.fetcher, f.store, emptyPool{}, zerolog.Nop())

	_, err := NewSweep(f.grid, f.cp, exec, zerolog.Nop()).Run(context.Background())
	assert.True(t, errors.Is(err, credentials.ErrEmptyPool))
	assert.NoFileExists(t, f.cp.Path())
}

type memoryRunLog struct {
	summaries []Summary
}

func (l *memoryRunLog) RecordSweep(ctx context.Context, s Summary) error {
	l.summaries = append(l.summaries, s)
	return ctx.Err()
}

func TestSweep_RecordsRunAndReportsProgress(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})
	runLog := &memoryRunLog{}
	rec := newCountingRecorder()
	sweep := f.sweep(WithRunLog(runLog), WithSweepRecorder(rec))

	var seen []Progress
	f.fetcher.OnFetch(func(domain.Task) {
		seen = append(seen, sweep.Progress())
	})

	summary, err := sweep.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, runLog.summaries, 1)
	assert.Equal(t, summary.RunID, runLog.summaries[0].RunID)

	require.Len(t, seen, 4)
	assert.True(t, seen[0].Running)
	require.NotNil(t, seen[2].Current)
	assert.Equal(t, "B@2016-01", seen[2].Current.Key())
	assert.Equal(t, 2, seen[2].Attempted)

	final := sweep.Progress()
	assert.False(t, final.Running)
	assert.Nil(t, final.Current)
	assert.Equal(t, 4, final.Counts[ResolutionStored])
}

func TestSweep_RunLogWrittenOnInterrupt(t *testing.T) {
	f := newSweepFixture(t, []string{"k1"})
	runLog := &memoryRunLog{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sweep(WithRunLog(runLog)).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, runLog.summaries, 1)
	assert.False(t, runLog.summaries[0].Completed)
	assert.Empty(t, f.fetcher.Calls())
}
