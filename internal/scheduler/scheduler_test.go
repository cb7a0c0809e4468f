package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	testingpkg "github.com/aristath/harvester/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Name() string { return j.name }

type fakeRunner struct {
	summaries []harvest.Summary
	err       error
	calls     int
}

func (r *fakeRunner) Run(context.Context) ([]harvest.Summary, error) {
	r.calls++
	return r.summaries, r.err
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "noop"}

	require.NoError(t, s.AddJob("0 0 2 * * *", job))
	assert.Equal(t, 1, s.Entries())

	err := s.AddJob("not a schedule", job)
	assert.Error(t, err)
	assert.Equal(t, 1, s.Entries())
}

func TestScheduler_NextRun(t *testing.T) {
	s := New(zerolog.Nop())
	assert.True(t, s.NextRun().IsZero())

	require.NoError(t, s.AddJob("@every 1h", &countingJob{name: "hourly"}))
	s.Start()
	defer s.Stop()
	assert.False(t, s.NextRun().IsZero())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "now", err: errors.New("boom")}

	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestHarvestJob_RunsFollowUpsOnCompletion(t *testing.T) {
	runner := &fakeRunner{summaries: []harvest.Summary{
		{Kind: domain.KindOverview, Completed: true},
		{Kind: domain.KindIntraday, Completed: true, Abandoned: []domain.Task{{Entity: "A"}}},
	}}
	backup := &countingJob{name: "backup"}

	job := NewHarvestJob(context.Background(), runner, zerolog.Nop(), backup)
	assert.Equal(t, "harvest", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, int32(1), backup.runs.Load())
}

func TestHarvestJob_FollowUpErrorsJoined(t *testing.T) {
	runner := &fakeRunner{}
	failing := &countingJob{name: "backup", err: errors.New("upload failed")}

	err := NewHarvestJob(context.Background(), runner, zerolog.Nop(), failing).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup: upload failed")
}

func TestHarvestJob_SkipsFollowUps(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"already running", harvest.ErrAlreadyRunning, false},
		{"interrupted", context.Canceled, false},
		{"fatal", errors.New("disk full"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			follow := &countingJob{name: "backup"}
			err := NewHarvestJob(context.Background(), &fakeRunner{err: tt.err}, zerolog.Nop(), follow).Run()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, int32(0), follow.runs.Load())
		})
	}
}

func TestCheckDatabaseJob_Name(t *testing.T) {
	job := NewCheckDatabaseJob(nil, zerolog.Nop())
	assert.Equal(t, "check_database", job.Name())
}

func TestCheckDatabaseJob_Run_NoDatabase(t *testing.T) {
	job := NewCheckDatabaseJob(nil, zerolog.Nop())
	assert.NoError(t, job.Run())
}

func TestCheckDatabaseJob_Run(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t)
	defer cleanup()

	job := NewCheckDatabaseJob(db, zerolog.Nop())
	assert.NoError(t, job.Run())
}
