package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRoutingMetrics() {
	r.PathQueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "railcore_path_queries_total",
			Help: "Path finder queries by outcome",
		},
		[]string{"outcome"},
	)

	r.PathQueryDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "railcore_path_query_duration_seconds",
			Help:    "Path finder latency in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	r.ExplorerPopsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "railcore_explorer_pops_total",
			Help: "Frontier entries processed by graph exploration",
		},
	)

	r.ExplorerPending = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "railcore_explorer_pending",
			Help: "Frontier entries still queued",
		},
	)

	r.GraphSnapshotVersion = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "railcore_graph_snapshot_version",
			Help: "Version of the currently published graph snapshot",
		},
	)
}
