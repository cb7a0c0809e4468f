package server

import (
	"time"

	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
)

// SweepView is the JSON form of a sweep summary
type SweepView struct {
	RunID        string         `json:"run_id"`
	Kind         string         `json:"kind"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Resumed      bool           `json:"resumed"`
	ResumeFrom   string         `json:"resume_from,omitempty"`
	Completed    bool           `json:"completed"`
	Total        int            `json:"total"`
	Attempted    int            `json:"attempted"`
	Counts       map[string]int `json:"counts"`
	Minted       int            `json:"minted"`
	NetworkCalls int            `json:"network_calls"`
	Abandoned    []string       `json:"abandoned,omitempty"`
}

// ProgressView is the JSON form of a running sweep
type ProgressView struct {
	SweepView
	Running bool   `json:"running"`
	Current string `json:"current,omitempty"`
}

// RunnerView is the JSON form of the runner status
type RunnerView struct {
	Running bool          `json:"running"`
	Current *ProgressView `json:"current,omitempty"`
	Last    []SweepView   `json:"last"`
	NextRun *time.Time    `json:"next_run,omitempty"`
}

func sweepView(s harvest.Summary) SweepView {
	v := SweepView{
		RunID:        s.RunID,
		Kind:         string(s.Kind),
		StartedAt:    s.StartedAt,
		Resumed:      s.Resumed,
		Completed:    s.Completed,
		Total:        s.Total,
		Attempted:    s.Attempted,
		Counts:       make(map[string]int, len(s.Counts)),
		Minted:       s.Minted,
		NetworkCalls: s.NetworkCalls,
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		v.FinishedAt = &finished
	}
	if s.ResumeFrom != nil {
		v.ResumeFrom = s.ResumeFrom.String()
	}
	for res, n := range s.Counts {
		v.Counts[res.String()] = n
	}
	for _, t := range s.Abandoned {
		v.Abandoned = append(v.Abandoned, t.Key())
	}
	return v
}

func runnerView(st harvest.RunnerStatus) RunnerView {
	v := RunnerView{Running: st.Running, Last: make([]SweepView, 0, len(st.Last))}
	if st.Current != nil {
		p := &ProgressView{SweepView: sweepView(st.Current.Summary), Running: st.Current.Running}
		if st.Current.Current != nil {
			p.Current = st.Current.Current.Key()
		}
		v.Current = p
	}
	for _, s := range st.Last {
		v.Last = append(v.Last, sweepView(s))
	}
	return v
}

func countsView(counts map[domain.ResourceKind]int) map[string]int {
	out := make(map[string]int, len(counts))
	for kind, n := range counts {
		out[string(kind)] = n
	}
	return out
}
