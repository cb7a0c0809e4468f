// Package harvest drives the resilient fetch sweep: a deterministic task
// grid, a per-task retry state machine over a rotating credential pool, and
// a checkpointed orchestrator that survives restarts.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/harvester/internal/domain"
	"github.com/rs/zerolog"
)

var (
	// ErrPoolExhausted means every credential failed for a task and no replacement could be minted
	ErrPoolExhausted = errors.New("credential pool exhausted")
	// ErrMintedAttemptFailed means the single attempt with a freshly minted credential failed
	ErrMintedAttemptFailed = errors.New("attempt with minted credential failed")
	// ErrPersistence wraps a failed save of a successfully fetched payload
	ErrPersistence = errors.New("failed to persist payload")
)

// CredentialPool is the part of credentials.Pool the executor drives
type CredentialPool interface {
	Current() (domain.Credential, error)
	Rotate(ctx context.Context) domain.Credential
	MintAndSwitch(ctx context.Context) (domain.Credential, bool)
	Size() int
}

// State is a retry state machine state
type State int

const (
	StatePending State = iota
	StateFetching
	StateRetrying
	StateExhausted
	StateDone
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	case StateDone:
		return "done"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Resolution is the terminal result of one task
type Resolution int

const (
	ResolutionStored Resolution = iota
	ResolutionAlreadyStored
	ResolutionNoData
	ResolutionAbandoned
	// ResolutionInterrupted means the context was cancelled before the task finished
	ResolutionInterrupted
)

func (r Resolution) String() string {
	switch r {
	case ResolutionStored:
		return "stored"
	case ResolutionAlreadyStored:
		return "already_stored"
	case ResolutionNoData:
		return "no_data"
	case ResolutionAbandoned:
		return "abandoned"
	case ResolutionInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Result describes how a task was resolved
type Result struct {
	Task         domain.Task
	Resolution   Resolution
	Attempts     int // fetches made with pool credentials
	NetworkCalls int // all fetches including the minted attempt
	Credential   domain.Credential
	Minted       bool
	Err          error // last failure, set for abandoned tasks
	Duration     time.Duration
}

// Executor runs the retry state machine for one task at a time
type Executor struct {
	fetcher  domain.Fetcher
	store    domain.TaskStore
	pool     CredentialPool
	recorder Recorder
	log      zerolog.Logger
	now      func() time.Time
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithRecorder reports attempts and resolutions to r
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewExecutor creates an executor
func NewExecutor(fetcher domain.Fetcher, store domain.TaskStore, pool CredentialPool, log zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		fetcher:  fetcher,
		store:    store,
		pool:     pool,
		recorder: NopRecorder{},
		log:      log.With().Str("component", "executor").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute drives task to a terminal resolution.
//
// Per-task failures never surface as errors: they end as ResolutionAbandoned.
// The returned error is non-nil only for configuration-fatal conditions
// (an empty credential pool).
func (e *Executor) Execute(ctx context.Context, task domain.Task) (Result, error) {
	started := e.now()
	res := Result{Task: task}
	log := e.log.With().
		Str("kind", string(task.Kind)).
		Str("entity", task.Entity).
		Str("period", task.PeriodString()).
		Logger()

	finish := func(state State, resolution Resolution, err error) (Result, error) {
		res.Resolution = resolution
		res.Err = err
		res.Duration = e.now().Sub(started)
		e.recorder.ObserveTask(task.Kind, resolution, res.Duration)
		log.Trace().Str("state", state.String()).Str("resolution", resolution.String()).Msg("Task finished")
		return res, nil
	}

	// Pending: a stored task costs no network call and no credential
	if e.alreadyStored(ctx, task, log) {
		log.Debug().Msg("Already stored, skipping")
		return finish(StateDone, ResolutionAlreadyStored, nil)
	}

	// The bound is the pool size at task start; a mint during this task does not extend it
	limit := e.pool.Size()
	state := StateFetching
	var lastErr error

	for res.Attempts < limit {
		if err := ctx.Err(); err != nil {
			return finish(state, ResolutionInterrupted, err)
		}
		if state == StateRetrying && e.alreadyStored(ctx, task, log) {
			log.Info().Int("attempt", res.Attempts).Msg("Stored by another writer during retries")
			return finish(StateDone, ResolutionAlreadyStored, nil)
		}

		cred, err := e.pool.Current()
		if err != nil {
			res.Duration = e.now().Sub(started)
			return res, fmt.Errorf("cannot execute %s: %w", task, err)
		}

		outcome := e.attempt(ctx, task, cred, &res)
		res.Attempts++

		switch outcome.Kind {
		case domain.OutcomeSuccess:
			log.Info().Str("credential", cred.Mask()).Int("attempt", res.Attempts).Msg("Stored")
			return finish(StateDone, ResolutionStored, nil)
		case domain.OutcomeAlreadyStored:
			return finish(StateDone, ResolutionAlreadyStored, nil)
		case domain.OutcomeNoData:
			log.Info().Str("reason", outcome.Reason).Msg("No data available")
			return finish(StateDone, ResolutionNoData, nil)
		}

		// RateLimited or TransientError
		lastErr = outcome.Err
		log.Warn().
			Err(outcome.Err).
			Str("outcome", outcome.Kind.String()).
			Str("credential", cred.Mask()).
			Int("attempt", res.Attempts).
			Int("limit", limit).
			Msg("Attempt failed, rotating credential")

		e.pool.Rotate(ctx)
		e.recorder.ObserveRotation(task.Kind)
		state = StateRetrying
	}

	// Exhausted: every credential has been tried once for this task
	state = StateExhausted
	if err := ctx.Err(); err != nil {
		return finish(state, ResolutionInterrupted, err)
	}

	log.Warn().Err(lastErr).Int("attempts", res.Attempts).Msg("All credentials failed, minting a new one")

	cred, ok := e.pool.MintAndSwitch(ctx)
	e.recorder.ObserveMint(ok)
	if !ok {
		err := fmt.Errorf("%w after %d attempts: %v", ErrPoolExhausted, res.Attempts, lastErr)
		log.Error().Err(err).Str("task", task.String()).Msg("Abandoning task")
		return finish(StateAbandoned, ResolutionAbandoned, err)
	}
	res.Minted = true

	if err := ctx.Err(); err != nil {
		return finish(state, ResolutionInterrupted, err)
	}

	// Exactly one attempt with the minted credential, no further cycling
	outcome := e.attempt(ctx, task, cred, &res)
	switch outcome.Kind {
	case domain.OutcomeSuccess:
		log.Info().Str("credential", cred.Mask()).Msg("Stored with minted credential")
		return finish(StateDone, ResolutionStored, nil)
	case domain.OutcomeAlreadyStored:
		return finish(StateDone, ResolutionAlreadyStored, nil)
	case domain.OutcomeNoData:
		log.Info().Str("reason", outcome.Reason).Msg("No data available")
		return finish(StateDone, ResolutionNoData, nil)
	}

	err := fmt.Errorf("%w (%s): %v", ErrMintedAttemptFailed, outcome.Kind, outcome.Err)
	log.Error().Err(err).Str("task", task.String()).Msg("Abandoning task")
	return finish(StateAbandoned, ResolutionAbandoned, err)
}

// attempt performs one fetch and, on success, persists the payload.
// A failed save is reported as a transient outcome so the fetch is retried.
func (e *Executor) attempt(ctx context.Context, task domain.Task, cred domain.Credential, res *Result) domain.Outcome {
	started := e.now()
	outcome := e.fetcher.Fetch(ctx, task, cred)
	res.NetworkCalls++
	res.Credential = cred

	if outcome.Kind == domain.OutcomeSuccess {
		if err := e.store.Save(ctx, task, outcome.Payload); err != nil {
			e.log.Error().Err(err).Str("task", task.String()).Msg("Failed to persist payload")
			outcome = domain.Transient(fmt.Errorf("%w: %v", ErrPersistence, err))
		}
	}

	e.recorder.ObserveAttempt(task.Kind, outcome.Kind, e.now().Sub(started))
	return outcome
}

// alreadyStored consults persistence. A failing check is logged and treated as "not stored".
func (e *Executor) alreadyStored(ctx context.Context, task domain.Task, log zerolog.Logger) bool {
	exists, err := e.store.Exists(ctx, task)
	if err != nil {
		log.Warn().Err(err).Msg("Existence check failed, fetching anyway")
		return false
	}
	return exists
}
