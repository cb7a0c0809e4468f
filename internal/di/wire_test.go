package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/harvester/internal/config"
	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/aristath/harvester/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:       dir,
		DBPath:        filepath.Join(dir, "alpha_vantage.db"),
		CheckpointDir: filepath.Join(dir, "checkpoints"),
		EnvFile:       filepath.Join(dir, ".env"),
		Schedule:      "0 0 2 * * *",
		Maintenance:   "0 30 1 * * *",
		SweepLogDays:  90,
		Harvest: config.HarvestConfig{
			KeysVar: "TEST_HARVEST_KEYS",
			APIKeys: []string{"KEYONE1", "KEYTWO2"},
			Kinds:   []domain.ResourceKind{domain.KindOverview},
			Tickers: []string{"AAPL", "PLTR", "MSFT"},
			Exclude: []string{"pltr"},
			Start:   domain.Period{Year: 2016, Month: 1},
			End:     domain.Period{Year: 2016, Month: 2},
		},
		AlphaVantage: config.AlphaVantageConfig{
			BaseURL:          baseURL,
			IntradayInterval: "60min",
			HTTPTimeout:      5 * time.Second,
		},
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t, "")

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.DB)
	assert.FileExists(t, cfg.DBPath)
}

func TestWire_NoCredentials(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Harvest.APIKeys = nil

	_, _, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrNoCredentials)
}

func TestWire_HarvestEndToEnd(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		symbol := r.URL.Query().Get("symbol")
		if r.URL.Query().Get("apikey") == "KEYONE1" && symbol == "MSFT" {
			_, _ = w.Write([]byte(`{"Note":"API call frequency exceeded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"Symbol":"` + symbol + `","Name":"x"}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Nil(t, jobs.Backup)
	assert.Equal(t, 2, container.Pool.Size())

	summaries, err := container.Runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.True(t, s.Completed)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.Counts[harvest.ResolutionStored])
	assert.Equal(t, int32(3), calls.Load())

	ctx := context.Background()
	for _, symbol := range []string{"AAPL", "MSFT"} {
		ok, err := container.Repository.Exists(ctx, domain.Task{Entity: symbol, Kind: domain.KindOverview})
		require.NoError(t, err)
		assert.True(t, ok, symbol)
	}
	ok, err := container.Repository.Exists(ctx, domain.Task{Entity: "PLTR", Kind: domain.KindOverview})
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr := os.Stat(cfg.CheckpointPath(domain.KindOverview))
	assert.True(t, os.IsNotExist(statErr), "checkpoint is cleared on completion")

	runs, err := container.Repository.RecentSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, s.RunID, runs[0].RunID)
	assert.Equal(t, 2, runs[0].Stored)

	// Second pass fetches nothing
	summaries, err = container.Runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summaries[0].Counts[harvest.ResolutionAlreadyStored])
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduleJobs(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	s := scheduler.New(zerolog.Nop())
	require.NoError(t, ScheduleJobs(s, cfg, jobs))
	assert.Equal(t, 3, s.Entries())
}

type fakeSymbols []string

func (f fakeSymbols) StoredSymbols(context.Context, domain.ResourceKind) ([]string, error) {
	return f, nil
}

func TestResolveEntities(t *testing.T) {
	cfg := testConfig(t, "")

	entities, err := ResolveEntities(context.Background(), cfg, fakeSymbols{"IBM"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "PLTR", "MSFT"}, entities)

	cfg.Harvest.Tickers = nil
	entities, err = ResolveEntities(context.Background(), cfg, fakeSymbols{"IBM"})
	require.NoError(t, err)
	assert.Equal(t, []string{"IBM"}, entities)

	_, err = ResolveEntities(context.Background(), cfg, fakeSymbols{})
	assert.Error(t, err)
}

func TestSweepRunFromSummary(t *testing.T) {
	run := SweepRunFromSummary(harvest.Summary{
		RunID: "r",
		Kind:  domain.KindIntraday,
		Counts: map[harvest.Resolution]int{
			harvest.ResolutionStored:        3,
			harvest.ResolutionAlreadyStored: 2,
			harvest.ResolutionNoData:        1,
			harvest.ResolutionAbandoned:     4,
		},
		Minted: 1,
	})

	assert.Equal(t, "intraday", run.Kind)
	assert.Equal(t, 3, run.Stored)
	assert.Equal(t, 2, run.AlreadyStored)
	assert.Equal(t, 1, run.NoData)
	assert.Equal(t, 4, run.Abandoned)
	assert.Equal(t, 1, run.Minted)
}
