package harvest

import (
	"cmp"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/aristath/harvester/internal/domain"
)

// GridSpec describes a task grid
type GridSpec struct {
	Kind     domain.ResourceKind
	Entities []string
	Exclude  []string // Operator exclusion set, matched case-insensitively
	From     domain.Period
	To       domain.Period
	// Until caps the period range at the month containing it. Zero means no cap.
	Until time.Time
}

// Grid is the finite, deterministic set of tasks for one resource kind.
//
// Canonical order is (entity ordinal, period ordinal): entities in input order,
// months ascending within each entity. All resume logic is derived from this
// single ordering key.
type Grid struct {
	kind     domain.ResourceKind
	entities []string
	ordinals map[string]int
	periods  []domain.Period
}

// NewGrid builds a grid. Entities are de-duplicated keeping first occurrence.
func NewGrid(spec GridSpec) (*Grid, error) {
	if !spec.Kind.Valid() {
		return nil, fmt.Errorf("invalid resource kind: %q", spec.Kind)
	}

	excluded := make(map[string]bool, len(spec.Exclude))
	for _, e := range spec.Exclude {
		excluded[strings.ToUpper(strings.TrimSpace(e))] = true
	}

	g := &Grid{
		kind:     spec.Kind,
		ordinals: make(map[string]int, len(spec.Entities)),
	}
	for _, e := range spec.Entities {
		e = strings.TrimSpace(e)
		if e == "" || excluded[strings.ToUpper(e)] {
			continue
		}
		if _, dup := g.ordinals[e]; dup {
			continue
		}
		g.ordinals[e] = len(g.entities)
		g.entities = append(g.entities, e)
	}

	if spec.Kind.HasPeriod() {
		if spec.To.Ordinal() < spec.From.Ordinal() {
			return nil, fmt.Errorf("period range ends (%s) before it starts (%s)", spec.To, spec.From)
		}
		last := spec.To
		if !spec.Until.IsZero() {
			if capped := domain.PeriodOf(spec.Until); capped.Ordinal() < last.Ordinal() {
				last = capped
			}
		}
		for p := spec.From; p.Ordinal() <= last.Ordinal(); p = p.Next() {
			g.periods = append(g.periods, p)
		}
	}

	return g, nil
}

// Kind returns the resource kind of every task in the grid
func (g *Grid) Kind() domain.ResourceKind {
	return g.kind
}

// Entities returns the grid's entities in canonical order
func (g *Grid) Entities() []string {
	return append([]string(nil), g.entities...)
}

// Len returns the number of tasks
func (g *Grid) Len() int {
	if !g.kind.HasPeriod() {
		return len(g.entities)
	}
	return len(g.entities) * len(g.periods)
}

// Tasks enumerates the whole grid lazily
func (g *Grid) Tasks() iter.Seq[domain.Task] {
	return g.from(0, -1)
}

// Resume enumerates every task not strictly before pos. The task at pos itself
// is produced again. A nil pos, or one whose entity is no longer in the grid,
// yields the whole grid; found reports whether pos was located.
func (g *Grid) Resume(pos *domain.Position) (tasks iter.Seq[domain.Task], found bool) {
	if pos == nil {
		return g.Tasks(), false
	}
	entity, ok := g.ordinals[pos.Entity]
	if !ok {
		return g.Tasks(), false
	}
	period := -1
	if g.kind.HasPeriod() && pos.HasPeriod() {
		period = pos.Period().Ordinal()
	}
	return g.from(entity, period), true
}

// Compare orders two tasks of this grid canonically.
// Entities unknown to the grid sort after every known entity.
func (g *Grid) Compare(a, b domain.Task) int {
	ka, kb := g.key(a), g.key(b)
	if c := cmp.Compare(ka.entity, kb.entity); c != 0 {
		return c
	}
	return cmp.Compare(ka.period, kb.period)
}

type orderKey struct {
	entity int
	period int
}

func (g *Grid) key(t domain.Task) orderKey {
	k := orderKey{entity: len(g.entities), period: -1}
	if i, ok := g.ordinals[t.Entity]; ok {
		k.entity = i
	}
	if t.Period != nil {
		k.period = t.Period.Ordinal()
	}
	return k
}

func (k orderKey) before(o orderKey) bool {
	if k.entity != o.entity {
		return k.entity < o.entity
	}
	return k.period < o.period
}

// from yields tasks whose key is >= (entity, period)
func (g *Grid) from(entity, period int) iter.Seq[domain.Task] {
	start := orderKey{entity: entity, period: period}

	return func(yield func(domain.Task) bool) {
		for i := entity; i < len(g.entities); i++ {
			name := g.entities[i]

			if !g.kind.HasPeriod() {
				if !yield(domain.Task{Entity: name, Kind: g.kind}) {
					return
				}
				continue
			}

			for _, p := range g.periods {
				if (orderKey{entity: i, period: p.Ordinal()}).before(start) {
					continue
				}
				if !yield(domain.Task{Entity: name, Kind: g.kind, Period: &p}) {
					return
				}
			}
		}
	}
}
