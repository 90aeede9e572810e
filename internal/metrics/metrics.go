// Package metrics bundles the Prometheus collectors of the monitor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries all collectors on a dedicated registry. A nil *Metrics
// is valid and turns every method into a no-op, so components don't have
// to care whether metrics are enabled.
type Metrics struct {
	Registry         *prometheus.Registry
	AttemptsTotal    *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	TaskDuration     prometheus.Histogram
	CacheEventsTotal *prometheus.CounterVec
	PoolInstances    *prometheus.GaugeVec
	NewListingsTotal prometheus.Counter
	CyclesTotal      *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatwatch_scrape_attempts_total",
			Help: "Scrape attempts by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatwatch_scrape_failures_total",
			Help: "Classified scrape failures by tier and error kind.",
		},
		[]string{"tier", "kind"},
	)
	taskDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flatwatch_task_duration_seconds",
			Help:    "End-to-end duration of one orchestrated scrape task.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	cacheEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatwatch_cache_events_total",
			Help: "Result cache hits and misses.",
		},
		[]string{"event"},
	)
	poolInstances := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flatwatch_browser_pool_instances",
			Help: "Browser pool occupancy by state.",
		},
		[]string{"state"},
	)
	newListings := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flatwatch_new_listings_total",
			Help: "Total number of detected listing changes.",
		},
	)
	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatwatch_monitoring_checks_total",
			Help: "Monitoring checks by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(attempts, failures, taskDuration, cacheEvents, poolInstances, newListings, cycles)

	return &Metrics{
		Registry:         registry,
		AttemptsTotal:    attempts,
		FailuresTotal:    failures,
		TaskDuration:     taskDuration,
		CacheEventsTotal: cacheEvents,
		PoolInstances:    poolInstances,
		NewListingsTotal: newListings,
		CyclesTotal:      cycles,
	}
}

func (m *Metrics) IncAttempt(tier, outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) IncFailure(tier, kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(tier, kind).Inc()
}

func (m *Metrics) ObserveTask(d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDuration.Observe(d.Seconds())
}

func (m *Metrics) IncCacheEvent(event string) {
	if m == nil {
		return
	}
	m.CacheEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) SetPool(total, busy, waiting int) {
	if m == nil {
		return
	}
	m.PoolInstances.WithLabelValues("total").Set(float64(total))
	m.PoolInstances.WithLabelValues("busy").Set(float64(busy))
	m.PoolInstances.WithLabelValues("waiting").Set(float64(waiting))
}

func (m *Metrics) IncNewListing() {
	if m == nil {
		return
	}
	m.NewListingsTotal.Inc()
}

func (m *Metrics) IncCheck(outcome string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
}
