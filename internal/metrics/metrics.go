// Package metrics exposes harvest telemetry as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "harvester"

// Collector implements harvest.Recorder on a Prometheus registry
type Collector struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptLatency  *prometheus.HistogramVec
	tasks           *prometheus.CounterVec
	taskLatency     *prometheus.HistogramVec
	rotations       *prometheus.CounterVec
	mints           *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
	sweepDuration   *prometheus.GaugeVec
	sweepTotal      *prometheus.GaugeVec
	sweepAbandoned  *prometheus.GaugeVec
	lastSweepFinish *prometheus.GaugeVec
}

// NewCollector creates a collector registered on reg. A nil reg gets a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Network fetch attempts by resource kind and outcome",
		}, []string{"kind", "outcome"}),
		attemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_attempt_seconds",
			Help:      "Fetch attempt latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks resolved by resource kind and resolution",
		}, []string{"kind", "resolution"}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_seconds",
			Help:      "Wall time spent per task including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_rotations_total",
			Help:      "Credential rotations triggered by retryable outcomes",
		}, []string{"kind"}),
		mints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_mints_total",
			Help:      "Credential mint attempts by result",
		}, []string{"result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Finished sweeps by kind and whether the grid was completed",
		}, []string{"kind", "completed"}),
		sweepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_duration_seconds",
			Help:      "Duration of the most recent sweep",
		}, []string{"kind"}),
		sweepTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_grid_tasks",
			Help:      "Task count of the most recent sweep's grid",
		}, []string{"kind"}),
		sweepAbandoned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_abandoned_tasks",
			Help:      "Abandoned tasks in the most recent sweep",
		}, []string{"kind"}),
		lastSweepFinish: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_finished_timestamp_seconds",
			Help:      "Unix time the most recent sweep finished",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.attempts,
		c.attemptLatency,
		c.tasks,
		c.taskLatency,
		c.rotations,
		c.mints,
		c.sweeps,
		c.sweepDuration,
		c.sweepTotal,
		c.sweepAbandoned,
		c.lastSweepFinish,
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveAttempt records one network call
func (c *Collector) ObserveAttempt(kind domain.ResourceKind, outcome domain.OutcomeKind, d time.Duration) {
	c.attempts.WithLabelValues(string(kind), outcome.String()).Inc()
	c.attemptLatency.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveTask records a task resolution
func (c *Collector) ObserveTask(kind domain.ResourceKind, resolution harvest.Resolution, d time.Duration) {
	c.tasks.WithLabelValues(string(kind), resolution.String()).Inc()
	c.taskLatency.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveRotation records a credential rotation
func (c *Collector) ObserveRotation(kind domain.ResourceKind) {
	c.rotations.WithLabelValues(string(kind)).Inc()
}

// ObserveMint records a mint attempt
func (c *Collector) ObserveMint(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	c.mints.WithLabelValues(result).Inc()
}

// ObserveSweep records a finished sweep
func (c *Collector) ObserveSweep(s harvest.Summary) {
	kind := string(s.Kind)
	completed := "false"
	if s.Completed {
		completed = "true"
	}

	c.sweeps.WithLabelValues(kind, completed).Inc()
	c.sweepDuration.WithLabelValues(kind).Set(s.FinishedAt.Sub(s.StartedAt).Seconds())
	c.sweepTotal.WithLabelValues(kind).Set(float64(s.Total))
	c.sweepAbandoned.WithLabelValues(kind).Set(float64(len(s.Abandoned)))
	c.lastSweepFinish.WithLabelValues(kind).Set(float64(s.FinishedAt.Unix()))
}

var _ harvest.Recorder = (*Collector)(nil)
