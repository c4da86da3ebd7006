package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the dispatch core. Every recording method
// is safe to call on a nil *Registry, so components run unmetered by default.
type Registry struct {
	// Occupancy Metrics
	OccupancyDecisionsTotal *prometheus.CounterVec
	OccupancyClaimsHeld     prometheus.Gauge
	OccupancyReleasesTotal  *prometheus.CounterVec
	OccupancyWaitingTrains  prometheus.Gauge

	// Signal Metrics
	SignalChangesTotal      *prometheus.CounterVec
	DeadlocksDetectedTotal  prometheus.Counter
	DeadlocksResolvedTotal  prometheus.Counter
	DeadlockLocksActive     prometheus.Gauge
	BusEventsPublishedTotal *prometheus.CounterVec
	BusHandlerFailuresTotal *prometheus.CounterVec
	ControllerFailuresTotal prometheus.Counter

	// Routing Metrics
	PathQueriesTotal     *prometheus.CounterVec
	PathQueryDuration    prometheus.Histogram
	ExplorerPopsTotal    prometheus.Counter
	ExplorerPending      prometheus.Gauge
	GraphSnapshotVersion prometheus.Gauge

	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initOccupancyMetrics()
	r.initSignalMetrics()
	r.initRoutingMetrics()
	r.initHTTPMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
