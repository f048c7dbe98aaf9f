// Package metrics records pipeline stage timings and outcomes in Prometheus
// collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lipsync"

// Metrics groups the collectors updated by the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	Jobs          *prometheus.CounterVec
	AssetFetches  *prometheus.CounterVec
	FetchedBytes  prometheus.Counter
}

// New creates the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"stage"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs by final status and error kind.",
		}, []string{"status", "kind"}),
		AssetFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_fetches_total",
			Help:      "Model asset acquisitions by asset and result.",
		}, []string{"asset", "result"}),
		FetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_fetched_bytes_total",
			Help:      "Bytes written by model asset downloads.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.StageDuration, m.Jobs, m.AssetFetches, m.FetchedBytes)
	}
	return m
}

// ObserveStage records how long stage took.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// JobFinished counts one finished job.
func (m *Metrics) JobFinished(status, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.Jobs.WithLabelValues(status, kind).Inc()
}

// AssetFetch counts one acquisition attempt. result is "cached", "fetched"
// or "failed".
func (m *Metrics) AssetFetch(asset, result string, bytes int64) {
	if m == nil {
		return
	}
	m.AssetFetches.WithLabelValues(asset, result).Inc()
	if bytes > 0 {
		m.FetchedBytes.Add(float64(bytes))
	}
}
