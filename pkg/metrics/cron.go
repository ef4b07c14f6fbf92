package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics records runs of the scheduled gallery sweeps.
type SweepMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	removed  *prometheus.CounterVec
}

// NewSweepMetrics registers the sweep metrics on the provided registerer.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		return &SweepMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of scheduled sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Scheduled sweep executions by result.",
	}, []string{"job", "result"})
	removed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_removed_entries_total",
		Help: "Gallery entries removed by scheduled sweeps.",
	}, []string{"job"})
	reg.MustRegister(duration, runs, removed)
	return &SweepMetrics{
		duration: duration,
		runs:     runs,
		removed:  removed,
	}
}

// ObserveDuration records the duration for the named job.
func (c *SweepMetrics) ObserveDuration(job string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (c *SweepMetrics) IncSuccess(job string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), ResultSuccess).Inc()
}

// IncFailure increments the failure counter for the named job.
func (c *SweepMetrics) IncFailure(job string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), ResultError).Inc()
}

// AddRemoved counts gallery rows a job deleted.
func (c *SweepMetrics) AddRemoved(job string, n int) {
	if c == nil || c.removed == nil || n <= 0 {
		return
	}
	c.removed.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
