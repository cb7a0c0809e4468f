package harvest

import (
	"time"

	"github.com/aristath/harvester/internal/domain"
)

// Recorder receives harvest telemetry. Implementations must be safe for
// concurrent use since the status server may read alongside a sweep.
type Recorder interface {
	ObserveAttempt(kind domain.ResourceKind, outcome domain.OutcomeKind, d time.Duration)
	ObserveTask(kind domain.ResourceKind, resolution Resolution, d time.Duration)
	ObserveRotation(kind domain.ResourceKind)
	ObserveMint(ok bool)
	ObserveSweep(summary Summary)
}

// NopRecorder discards everything
type NopRecorder struct{}

func (NopRecorder) ObserveAttempt(domain.ResourceKind, domain.OutcomeKind, time.Duration) {}
func (NopRecorder) ObserveTask(domain.ResourceKind, Resolution, time.Duration)          {}
func (NopRecorder) ObserveRotation(domain.ResourceKind)                                 {}
func (NopRecorder) ObserveMint(bool)                                                    {}
func (NopRecorder) ObserveSweep(Summary)                                                {}
