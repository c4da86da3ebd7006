package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initOccupancyMetrics() {
	r.OccupancyDecisionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "railcore_occupancy_decisions_total",
			Help: "Occupancy decisions by operation, outcome and aspect",
		},
		[]string{"operation", "outcome", "aspect"},
	)

	r.OccupancyClaimsHeld = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "railcore_occupancy_claims_held",
			Help: "Number of claims currently held",
		},
	)

	r.OccupancyReleasesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "railcore_occupancy_releases_total",
			Help: "Released claims by reason",
		},
		[]string{"reason"},
	)

	r.OccupancyWaitingTrains = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "railcore_occupancy_waiting_entries",
			Help: "Number of train entries queued behind held resources",
		},
	)
}
