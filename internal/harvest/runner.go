package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aristath/harvester/internal/domain"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned when a harvest is started while another one is in progress
var ErrAlreadyRunning = errors.New("a harvest is already running")

// SweepFactory builds the sweep for one resource kind
type SweepFactory func(ctx context.Context, kind domain.ResourceKind) (*Sweep, error)

// Runner runs the sweeps of several resource kinds one after another.
// Only one harvest runs at a time.
type Runner struct {
	kinds   []domain.ResourceKind
	factory SweepFactory
	log     zerolog.Logger
	running atomic.Bool

	mu      sync.RWMutex
	current *Sweep
	last    map[domain.ResourceKind]Summary
}

// RunnerStatus is a snapshot for status reporting
type RunnerStatus struct {
	Running bool
	Current *Progress
	Last    []Summary // most recent summary per kind, in configured order
}

// NewRunner creates a runner for kinds
func NewRunner(kinds []domain.ResourceKind, factory SweepFactory, log zerolog.Logger) *Runner {
	return &Runner{
		kinds:   append([]domain.ResourceKind(nil), kinds...),
		factory: factory,
		log:     log.With().Str("component", "runner").Logger(),
		last:    make(map[domain.ResourceKind]Summary),
	}
}

// Kinds returns the configured kinds
func (r *Runner) Kinds() []domain.ResourceKind {
	return append([]domain.ResourceKind(nil), r.kinds...)
}

// Run sweeps every configured kind
func (r *Runner) Run(ctx context.Context) ([]Summary, error) {
	return r.RunKinds(ctx, r.kinds)
}

// RunKinds sweeps the given kinds in order. It stops at the first
// interruption or fatal error; summaries of finished sweeps are returned.
func (r *Runner) RunKinds(ctx context.Context, kinds []domain.ResourceKind) ([]Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	defer r.setCurrent(nil)

	var summaries []Summary
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}

		sweep, err := r.factory(ctx, kind)
		if err != nil {
			return summaries, fmt.Errorf("failed to prepare %s sweep: %w", kind, err)
		}

		r.setCurrent(sweep)
		summary, err := sweep.Run(ctx)
		summaries = append(summaries, summary)

		r.mu.Lock()
		r.last[kind] = summary
		r.mu.Unlock()

		if err != nil {
			return summaries, err
		}
	}

	r.log.Info().Int("sweeps", len(summaries)).Msg("Harvest finished")
	return summaries, nil
}

// Running reports whether a harvest is in progress
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Status returns the current progress and the latest summaries
func (r *Runner) Status() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := RunnerStatus{Running: r.running.Load()}
	if r.current != nil {
		p := r.current.Progress()
		status.Current = &p
	}
	for _, kind := range r.kinds {
		if s, ok := r.last[kind]; ok {
			status.Last = append(status.Last, s.clone())
		}
	}
	return status
}

func (r *Runner) setCurrent(s *Sweep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s
}
