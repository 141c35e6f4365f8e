// Package metrics holds the Prometheus collectors for the cached map and
// the task lifecycle.
//
// All recording methods are safe to call on a nil *Metrics, so components
// take an optional collector and never branch on it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup results.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Task lifecycle transitions.
const (
	TransitionEnqueued  = "enqueued"
	TransitionSelected  = "selected"
	TransitionRunning   = "running"
	TransitionCompleted = "completed"
	TransitionRetried   = "retried"
	TransitionDropped   = "dropped"
	TransitionRecovered = "recovered"
)

// Metrics holds all stablekit collectors.
type Metrics struct {
	// Cache metrics, labelled by cache name
	CacheRequestsTotal  *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheItems          *prometheus.GaugeVec

	// Task metrics
	TaskTransitionsTotal *prometheus.CounterVec
	TaskExecutionErrors  prometheus.Counter
}

// New registers the collectors on registerer. A nil registerer gets a
// private registry, so independent instances never collide.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	return &Metrics{
		CacheRequestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stablekit_cache_requests_total",
				Help: "Cached map lookups by result",
			},
			[]string{"cache", "result"}, // result: hit, miss
		),
		CacheEvictionsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stablekit_cache_evictions_total",
				Help: "Entries evicted from a cached map because it was over capacity",
			},
			[]string{"cache"},
		),
		CacheItems: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stablekit_cache_items",
				Help: "Entries currently held in a cached map's memory",
			},
			[]string{"cache"},
		),
		TaskTransitionsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stablekit_task_transitions_total",
				Help: "Task lifecycle transitions",
			},
			[]string{"transition"},
		),
		TaskExecutionErrors: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "stablekit_task_execution_errors_total",
				Help: "Task bodies that returned an error",
			},
		),
	}
}

// CacheLookup records a hit or a miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	m.CacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

// CacheEviction records one capacity eviction.
func (m *Metrics) CacheEviction(cache string) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(cache).Inc()
}

// CacheSize sets the current number of cached entries.
func (m *Metrics) CacheSize(cache string, n int) {
	if m == nil {
		return
	}
	m.CacheItems.WithLabelValues(cache).Set(float64(n))
}

// TaskTransition records one lifecycle transition.
func (m *Metrics) TaskTransition(transition string) {
	if m == nil {
		return
	}
	m.TaskTransitionsTotal.WithLabelValues(transition).Inc()
}

// TaskExecutionError records a failed task body.
func (m *Metrics) TaskExecutionError() {
	if m == nil {
		return
	}
	m.TaskExecutionErrors.Inc()
}
