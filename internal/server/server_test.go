package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/harvester/internal/clientdata"
	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/aristath/harvester/internal/metrics"
	testingpkg "github.com/aristath/harvester/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	running bool
	status  harvest.RunnerStatus
	ran     chan context.Context
}

func (f *fakeRunner) Run(ctx context.Context) ([]harvest.Summary, error) {
	f.ran <- ctx
	return nil, nil
}

func (f *fakeRunner) Running() bool                { return f.running }
func (f *fakeRunner) Status() harvest.RunnerStatus { return f.status }

type fakePool struct{}

func (fakePool) Size() int   { return 3 }
func (fakePool) Cursor() int { return 1 }

type fakeStore struct {
	runs []clientdata.SweepRun
	err  error
}

func (f fakeStore) CountAll(context.Context) (map[domain.ResourceKind]int, error) {
	return map[domain.ResourceKind]int{domain.KindOverview: 2, domain.KindIntraday: 10}, f.err
}

func (f fakeStore) RecentSweeps(_ context.Context, limit int) ([]clientdata.SweepRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func newTestServer(t *testing.T, runner *fakeRunner, store StoreInfo) *Server {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t)
	t.Cleanup(cleanup)

	collector := metrics.NewCollector(nil)
	collector.ObserveMint(true)

	s := New(Config{
		Log:     zerolog.Nop(),
		Addr:    ":0",
		DevMode: true,
		Runner:  runner,
		Pool:    fakePool{},
		Store:   store,
		DB:      db,
		Usage:   func() map[string]int { return map[string]int{"KEY1…": 4} },
		NextRun: func() time.Time { return time.Date(2030, 1, 1, 2, 0, 0, 0, time.UTC) },
		Metrics: collector.Handler(),
	})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, fakeStore{})

	rec := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestHandleStatus(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := domain.Task{Entity: "AAPL", Kind: domain.KindIntraday, Period: &domain.Period{Year: 2016, Month: 3}}
	runner := &fakeRunner{status: harvest.RunnerStatus{
		Running: true,
		Current: &harvest.Progress{
			Summary: harvest.Summary{
				RunID:     "run-2",
				Kind:      domain.KindIntraday,
				StartedAt: started,
				Total:     108,
				Counts:    map[harvest.Resolution]int{harvest.ResolutionStored: 5},
			},
			Running: true,
			Current: &task,
		},
		Last: []harvest.Summary{{
			RunID:      "run-1",
			Kind:       domain.KindOverview,
			StartedAt:  started,
			FinishedAt: started.Add(time.Minute),
			Completed:  true,
			Total:      1,
			Counts:     map[harvest.Resolution]int{harvest.ResolutionNoData: 1},
		}},
	}}
	s := newTestServer(t, runner, fakeStore{})

	rec := do(t, s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, resp.Runner.Running)
	require.NotNil(t, resp.Runner.Current)
	assert.Equal(t, "AAPL@2016-03", resp.Runner.Current.Current)
	assert.Equal(t, 5, resp.Runner.Current.Counts[harvest.ResolutionStored.String()])
	require.Len(t, resp.Runner.Last, 1)
	assert.True(t, resp.Runner.Last[0].Completed)
	require.NotNil(t, resp.Runner.NextRun)

	require.NotNil(t, resp.Pool)
	assert.Equal(t, 3, resp.Pool.Size)
	assert.Equal(t, 1, resp.Pool.Cursor)
	assert.Equal(t, 4, resp.Pool.Usage["KEY1…"])

	assert.Equal(t, 10, resp.Stored["intraday"])
	require.NotNil(t, resp.Database)
	assert.Positive(t, resp.Database.PageCount)
}

func TestHandleSweeps(t *testing.T) {
	store := fakeStore{runs: []clientdata.SweepRun{{RunID: "a"}, {RunID: "b"}, {RunID: "c"}}}
	s := newTestServer(t, &fakeRunner{}, store)

	rec := do(t, s, http.MethodGet, "/api/sweeps?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sweeps []clientdata.SweepRun `json:"sweeps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sweeps, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/sweeps?limit=zero").Code)
}

func TestHandleSweeps_StoreError(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, fakeStore{err: errors.New("locked")})

	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/api/sweeps").Code)
}

func TestHandleTriggerHarvest(t *testing.T) {
	runner := &fakeRunner{ran: make(chan context.Context, 1)}
	s := newTestServer(t, runner, fakeStore{})

	rec := do(t, s, http.MethodPost, "/api/harvest")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case ctx := <-runner.ran:
		assert.NoError(t, ctx.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("harvest was not started")
	}
}

func TestHandleTriggerHarvest_AlreadyRunning(t *testing.T) {
	runner := &fakeRunner{running: true, ran: make(chan context.Context, 1)}
	s := newTestServer(t, runner, fakeStore{})

	rec := do(t, s, http.MethodPost, "/api/harvest")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, runner.ran)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, fakeStore{})

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `harvester_credential_mints_total{result="ok"} 1`)
}
