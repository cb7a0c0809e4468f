package harvest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aristath/harvester/internal/checkpoint"
	"github.com/aristath/harvester/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Checkpoint is the durable sweep cursor
type Checkpoint interface {
	Load() (*domain.Position, error)
	Save(pos domain.Position) error
	Clear() error
}

// RunLog records finished sweeps
type RunLog interface {
	RecordSweep(ctx context.Context, summary Summary) error
}

// Summary describes one sweep run
type Summary struct {
	RunID        string
	Kind         domain.ResourceKind
	StartedAt    time.Time
	FinishedAt   time.Time
	Resumed      bool
	ResumeFrom   *domain.Position
	Completed    bool
	Total        int // tasks in the grid
	Attempted    int // tasks executed in this run
	Counts       map[Resolution]int
	Minted       int
	NetworkCalls int
	Abandoned    []domain.Task
}

func newSummary(kind domain.ResourceKind, total int, started time.Time) Summary {
	return Summary{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: started,
		Total:     total,
		Counts:    make(map[Resolution]int),
	}
}

func (s *Summary) add(res Result) {
	s.Attempted++
	s.Counts[res.Resolution]++
	s.NetworkCalls += res.NetworkCalls
	if res.Minted {
		s.Minted++
	}
	if res.Resolution == ResolutionAbandoned {
		s.Abandoned = append(s.Abandoned, res.Task)
	}
}

func (s Summary) clone() Summary {
	out := s
	out.Counts = make(map[Resolution]int, len(s.Counts))
	for k, v := range s.Counts {
		out.Counts[k] = v
	}
	out.Abandoned = append([]domain.Task(nil), s.Abandoned...)
	return out
}

// Progress is a point-in-time view of a running sweep
type Progress struct {
	Summary
	Running bool
	Current *domain.Task
}

// Sweep walks one grid to completion, checkpointing after every task
type Sweep struct {
	grid       *Grid
	checkpoint Checkpoint
	executor   *Executor
	runLog     RunLog
	recorder   Recorder
	log        zerolog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	progress Progress
}

// SweepOption configures a Sweep
type SweepOption func(*Sweep)

// WithRunLog records every sweep summary
func WithRunLog(l RunLog) SweepOption {
	return func(s *Sweep) {
		s.runLog = l
	}
}

// WithSweepRecorder reports sweep summaries to r
func WithSweepRecorder(r Recorder) SweepOption {
	return func(s *Sweep) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewSweep creates a sweep over grid
func NewSweep(grid *Grid, cp Checkpoint, executor *Executor, log zerolog.Logger, opts ...SweepOption) *Sweep {
	s := &Sweep{
		grid:       grid,
		checkpoint: cp,
		executor:   executor,
		recorder:   NopRecorder{},
		log:        log.With().Str("component", "sweep").Str("kind", string(grid.Kind())).Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the swept resource kind
func (s *Sweep) Kind() domain.ResourceKind {
	return s.grid.Kind()
}

// Run executes the sweep.
//
// The checkpoint is saved after every task regardless of outcome and cleared
// only once the grid is exhausted. Cancelling ctx stops after the current
// task, keeps the checkpoint and returns ctx.Err(). Any other returned error
// is configuration-fatal.
func (s *Sweep) Run(ctx context.Context) (Summary, error) {
	summary := newSummary(s.grid.Kind(), s.grid.Len(), s.now())
	log := s.log.With().Str("run_id", summary.RunID).Logger()

	pos, err := s.checkpoint.Load()
	if err != nil {
		if errors.Is(err, checkpoint.ErrCorrupt) {
			log.Warn().Err(err).Msg("Ignoring corrupt checkpoint, starting from the beginning")
		} else {
			log.Warn().Err(err).Msg("Failed to load checkpoint, starting from the beginning")
		}
		pos = nil
	}

	tasks, found := s.grid.Resume(pos)
	if pos != nil {
		summary.Resumed = true
		summary.ResumeFrom = pos
		if found {
			log.Info().Str("position", pos.String()).Msg("Resuming from checkpoint")
		} else {
			log.Warn().Str("position", pos.String()).Msg("Checkpoint entity not in grid, starting from the beginning")
		}
	}

	log.Info().Int("tasks", summary.Total).Msg("Sweep started")
	s.setProgress(summary, nil, true)

	var runErr error
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		s.setProgress(summary, &task, true)

		res, err := s.executor.Execute(ctx, task)
		if err != nil {
			// Configuration-fatal: leave the checkpoint as it was
			log.Error().Err(err).Msg("Sweep aborted")
			s.finish(ctx, &summary, log)
			return summary, err
		}

		if err := s.checkpoint.Save(task.Position()); err != nil {
			log.Error().Err(err).Str("task", task.String()).Msg("Failed to save checkpoint")
		}

		if res.Resolution == ResolutionInterrupted {
			runErr = res.Err
			break
		}
		summary.add(res)
	}

	if runErr != nil {
		log.Warn().Err(runErr).Msg("Sweep interrupted, checkpoint kept")
	} else {
		summary.Completed = true
		if err := s.checkpoint.Clear(); err != nil {
			log.Error().Err(err).Msg("Failed to clear checkpoint")
		}
	}

	s.finish(ctx, &summary, log)
	return summary, runErr
}

func (s *Sweep) finish(ctx context.Context, summary *Summary, log zerolog.Logger) {
	summary.FinishedAt = s.now()
	s.setProgress(*summary, nil, false)

	for _, t := range summary.Abandoned {
		log.Warn().Str("task", t.String()).Msg("Task abandoned in this run")
	}

	log.Info().
		Bool("completed", summary.Completed).
		Int("attempted", summary.Attempted).
		Int("stored", summary.Counts[ResolutionStored]).
		Int("already_stored", summary.Counts[ResolutionAlreadyStored]).
		Int("no_data", summary.Counts[ResolutionNoData]).
		Int("abandoned", summary.Counts[ResolutionAbandoned]).
		Int("minted", summary.Minted).
		Int("network_calls", summary.NetworkCalls).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Sweep finished")

	s.recorder.ObserveSweep(*summary)

	if s.runLog != nil {
		// The run log must be written even when ctx was cancelled
		if err := s.runLog.RecordSweep(context.WithoutCancel(ctx), *summary); err != nil {
			log.Error().Err(err).Msg("Failed to record sweep run")
		}
	}
}

func (s *Sweep) setProgress(summary Summary, current *domain.Task, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = Progress{Summary: summary.clone(), Running: running}
	if current != nil {
		t := *current
		s.progress.Current = &t
	}
}

// Progress returns a snapshot safe to read from other goroutines
func (s *Sweep) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.progress
	p.Summary = p.Summary.clone()
	return p
}
