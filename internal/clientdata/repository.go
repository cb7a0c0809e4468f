// Package clientdata persists harvested API responses.
// Every resource kind has its own table keyed by (symbol, period); the raw
// JSON body is stored as-is and never rewritten once present.
package clientdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/harvester/internal/domain"
)

// tables maps each resource kind to its table.
var tables = map[domain.ResourceKind]string{
	domain.KindOverview:        "av_overview",
	domain.KindIncomeStatement: "av_income_statement",
	domain.KindBalanceSheet:    "av_balance_sheet",
	domain.KindCashFlow:        "av_cash_flow",
	domain.KindIntraday:        "av_intraday",
	domain.KindNewsSentiment:   "av_news_sentiment",
}

// ErrInvalidPayload is returned by Save for bodies that are not JSON
var ErrInvalidPayload = errors.New("payload is not valid JSON")

// Repository stores harvested payloads
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// TableFor returns the table name for a kind.
// Only names from the fixed map are ever interpolated into SQL.
func TableFor(kind domain.ResourceKind) (string, error) {
	table, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("invalid resource kind: %s", kind)
	}
	return table, nil
}

// Exists reports whether the task's payload is already stored
func (r *Repository) Exists(ctx context.Context, task domain.Task) (bool, error) {
	table, err := TableFor(task.Kind)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE symbol = ? AND period = ? LIMIT 1", table)

	var one int
	err = r.db.QueryRowContext(ctx, query, task.Entity, task.PeriodString()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s in %s: %w", task.Key(), table, err)
	}

	return true, nil
}

// Save stores the payload for a task. A row that already exists is left
// untouched, so saving the same task twice never produces a duplicate.
func (r *Repository) Save(ctx context.Context, task domain.Task, payload []byte) error {
	table, err := TableFor(task.Kind)
	if err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("failed to save %s: %w", task.Key(), ErrInvalidPayload)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (symbol, period, data, fetched_at) VALUES (?, ?, ?, ?) ON CONFLICT(symbol, period) DO NOTHING",
		table,
	)

	_, err = r.db.ExecContext(ctx, query, task.Entity, task.PeriodString(), string(payload), r.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", task.Key(), table, err)
	}

	return nil
}

// Get returns the stored payload, or nil, nil if the task is not stored.
func (r *Repository) Get(ctx context.Context, task domain.Task) (json.RawMessage, error) {
	table, err := TableFor(task.Kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE symbol = ? AND period = ?", table)

	var data string
	err = r.db.QueryRowContext(ctx, query, task.Entity, task.PeriodString()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from %s: %w", task.Key(), table, err)
	}

	return json.RawMessage(data), nil
}

// Count returns the number of stored payloads for a kind
func (r *Repository) Count(ctx context.Context, kind domain.ResourceKind) (int, error) {
	table, err := TableFor(kind)
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}

	return count, nil
}

// CountAll returns stored payload counts for every kind
func (r *Repository) CountAll(ctx context.Context) (map[domain.ResourceKind]int, error) {
	counts := make(map[domain.ResourceKind]int, len(tables))
	for _, kind := range domain.AllKinds {
		n, err := r.Count(ctx, kind)
		if err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}

// StoredSymbols returns the distinct symbols stored for a kind, in first-stored order.
// The overview table doubles as the ticker universe for the other grids.
func (r *Repository) StoredSymbols(ctx context.Context, kind domain.ResourceKind) ([]string, error) {
	table, err := TableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT symbol FROM %s GROUP BY symbol ORDER BY MIN(rowid)", table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols in %s: %w", table, err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol from %s: %w", table, err)
		}
		symbols = append(symbols, s)
	}

	return symbols, rows.Err()
}
