package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSignalMetrics() {
	r.SignalChangesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "railcore_signal_changes_total",
			Help: "Signal transitions by new aspect",
		},
		[]string{"aspect"},
	)

	r.DeadlocksDetectedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "railcore_deadlocks_detected_total",
			Help: "Circular waits detected",
		},
	)

	r.DeadlocksResolvedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "railcore_deadlocks_resolved_total",
			Help: "Circular waits broken with an override lock",
		},
	)

	r.DeadlockLocksActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "railcore_deadlock_locks_active",
			Help: "Unexpired deadlock override locks",
		},
	)

	r.BusEventsPublishedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "railcore_bus_events_published_total",
			Help: "Events published on the signal bus by topic",
		},
		[]string{"topic"},
	)

	r.BusHandlerFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "railcore_bus_handler_failures_total",
			Help: "Subscriber panics recovered during delivery by topic",
		},
		[]string{"topic"},
	)

	r.ControllerFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "railcore_controller_failures_total",
			Help: "Train control callback errors and panics",
		},
	)
}
