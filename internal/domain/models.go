// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Credential is an opaque API key for the data source
type Credential string

// Mask returns a loggable form of the credential (first 4 chars only)
func (c Credential) Mask() string {
	s := string(c)
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "…"
}

// ResourceKind identifies one family of data-source resources
type ResourceKind string

const (
	// Whole-history resources (no time dimension)
	KindOverview        ResourceKind = "overview"
	KindIncomeStatement ResourceKind = "income_statement"
	KindBalanceSheet    ResourceKind = "balance_sheet"
	KindCashFlow        ResourceKind = "cash_flow"

	// Monthly resources
	KindIntraday      ResourceKind = "intraday"
	KindNewsSentiment ResourceKind = "news_sentiment"
)

// AllKinds lists every supported kind in default sweep order.
// Overview comes first because stored overview symbols can seed the other grids.
var AllKinds = []ResourceKind{
	KindOverview,
	KindIncomeStatement,
	KindBalanceSheet,
	KindCashFlow,
	KindIntraday,
	KindNewsSentiment,
}

// HasPeriod reports whether tasks of this kind carry a year+month
func (k ResourceKind) HasPeriod() bool {
	return k == KindIntraday || k == KindNewsSentiment
}

// Valid reports whether k is a known kind
func (k ResourceKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseResourceKind validates and normalizes a kind name
func ParseResourceKind(s string) (ResourceKind, error) {
	k := ResourceKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
	return k, nil
}

// Period is a calendar month
type Period struct {
	Year  int
	Month int
}

// NewPeriod creates a Period, validating the month
func NewPeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1 {
		return Period{}, fmt.Errorf("invalid year %d", year)
	}
	return Period{Year: year, Month: month}, nil
}

// ParsePeriod parses a YYYY-MM string
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: expected YYYY-MM", s)
	}
	return PeriodOf(t), nil
}

// PeriodOf returns the month containing t
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// Ordinal is a monotonic key: later months have larger ordinals
func (p Period) Ordinal() int {
	return p.Year*12 + (p.Month - 1)
}

// Next returns the following month
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// FirstDay returns midnight UTC on the first day of the month
func (p Period) FirstDay() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns midnight UTC on the last day of the month
func (p Period) LastDay() time.Time {
	return p.FirstDay().AddDate(0, 1, -1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Task is one point in the fetch grid.
// Period is nil for whole-history kinds.
type Task struct {
	Entity string
	Kind   ResourceKind
	Period *Period
}

// Key returns the task identity as a string (entity or entity@YYYY-MM)
func (t Task) Key() string {
	if t.Period == nil {
		return t.Entity
	}
	return t.Entity + "@" + t.Period.String()
}

// PeriodString returns the period in YYYY-MM form, or "" for whole-history tasks
func (t Task) PeriodString() string {
	if t.Period == nil {
		return ""
	}
	return t.Period.String()
}

// Position returns the checkpoint position for this task
func (t Task) Position() Position {
	pos := Position{Entity: t.Entity}
	if t.Period != nil {
		pos.Year = t.Period.Year
		pos.Month = t.Period.Month
	}
	return pos
}

func (t Task) String() string {
	return string(t.Kind) + ":" + t.Key()
}

// Position is a persisted cursor into a task grid.
// Year and Month are zero for whole-history grids.
type Position struct {
	Entity string
	Year   int
	Month  int
}

// HasPeriod reports whether the position carries a time dimension
func (p Position) HasPeriod() bool {
	return p.Year != 0
}

// Period returns the position's period. Only meaningful when HasPeriod is true.
func (p Position) Period() Period {
	return Period{Year: p.Year, Month: p.Month}
}

// Encode renders the single-line checkpoint form: entity,year,month or entity
func (p Position) Encode() string {
	if !p.HasPeriod() {
		return p.Entity
	}
	return p.Entity + "," + strconv.Itoa(p.Year) + "," + strconv.Itoa(p.Month)
}

// DecodePosition parses the form produced by Encode
func DecodePosition(line string) (Position, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Position{}, fmt.Errorf("empty position")
	}

	parts := strings.Split(line, ",")
	switch len(parts) {
	case 1:
		return Position{Entity: parts[0]}, nil
	case 3:
		entity := strings.TrimSpace(parts[0])
		if entity == "" {
			return Position{}, fmt.Errorf("empty entity in %q", line)
		}
		year, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return Position{}, fmt.Errorf("invalid year in %q: %w", line, err)
		}
		month, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return Position{}, fmt.Errorf("invalid month in %q: %w", line, err)
		}
		if _, err := NewPeriod(year, month); err != nil {
			return Position{}, fmt.Errorf("invalid period in %q: %w", line, err)
		}
		return Position{Entity: entity, Year: year, Month: month}, nil
	default:
		return Position{}, fmt.Errorf("malformed position %q", line)
	}
}

func (p Position) String() string {
	if !p.HasPeriod() {
		return p.Entity
	}
	return p.Entity + "@" + p.Period().String()
}
