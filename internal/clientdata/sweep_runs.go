package clientdata

import (
	"context"
	"fmt"
	"time"
)

// SweepRun is one row of the sweep_runs log
type SweepRun struct {
	RunID         string    `json:"run_id"`
	Kind          string    `json:"kind"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Resumed       bool      `json:"resumed"`
	Completed     bool      `json:"completed"`
	Total         int       `json:"total"`
	Stored        int       `json:"stored"`
	AlreadyStored int       `json:"already_stored"`
	NoData        int       `json:"no_data"`
	Abandoned     int       `json:"abandoned"`
	Minted        int       `json:"minted"`
	NetworkCalls  int       `json:"network_calls"`
}

// RecordSweep appends a sweep run
func (r *Repository) RecordSweep(ctx context.Context, run SweepRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (
			run_id, kind, started_at, finished_at, resumed, completed, total,
			stored, already_stored, no_data, abandoned, minted, network_calls
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Kind, run.StartedAt.Unix(), run.FinishedAt.Unix(),
		boolToInt(run.Resumed), boolToInt(run.Completed), run.Total,
		run.Stored, run.AlreadyStored, run.NoData, run.Abandoned, run.Minted, run.NetworkCalls,
	)
	if err != nil {
		return fmt.Errorf("failed to record sweep %s: %w", run.RunID, err)
	}
	return nil
}

// RecentSweeps returns the latest runs, newest first
func (r *Repository) RecentSweeps(ctx context.Context, limit int) ([]SweepRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, kind, started_at, finished_at, resumed, completed, total,
		       stored, already_stored, no_data, abandoned, minted, network_calls
		FROM sweep_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		var run SweepRun
		var started, finished int64
		var resumed, completed int
		if err := rows.Scan(
			&run.RunID, &run.Kind, &started, &finished, &resumed, &completed, &run.Total,
			&run.Stored, &run.AlreadyStored, &run.NoData, &run.Abandoned, &run.Minted, &run.NetworkCalls,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sweep run: %w", err)
		}
		run.StartedAt = time.Unix(started, 0)
		run.FinishedAt = time.Unix(finished, 0)
		run.Resumed = resumed == 1
		run.Completed = completed == 1
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// DeleteSweepsBefore removes sweep log rows older than cutoff.
// Returns the number of rows deleted.
func (r *Repository) DeleteSweepsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sweep_runs WHERE started_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sweep runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for sweep_runs: %w", err)
	}

	return deleted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
