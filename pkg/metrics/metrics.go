package metrics

import (
	"runtime"
	"time"
)

// RecordDecision counts one occupancy decision.
func (r *Registry) RecordDecision(operation string, allowed bool, aspect string) {
	if r == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	r.OccupancyDecisionsTotal.WithLabelValues(operation, outcome, aspect).Inc()
}

// SetClaimsHeld records the size of the claims table.
func (r *Registry) SetClaimsHeld(n int) {
	if r == nil {
		return
	}
	r.OccupancyClaimsHeld.Set(float64(n))
}

// RecordReleases counts released claims. Zero counts are ignored.
func (r *Registry) RecordReleases(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.OccupancyReleasesTotal.WithLabelValues(reason).Add(float64(n))
}

// SetWaiting records how many queue entries are waiting on held resources.
func (r *Registry) SetWaiting(n int) {
	if r == nil {
		return
	}
	r.OccupancyWaitingTrains.Set(float64(n))
}

// RecordSignalChange counts a signal transition to aspect.
func (r *Registry) RecordSignalChange(aspect string) {
	if r == nil {
		return
	}
	r.SignalChangesTotal.WithLabelValues(aspect).Inc()
}

// RecordDeadlockDetected counts a detected circular wait.
func (r *Registry) RecordDeadlockDetected() {
	if r == nil {
		return
	}
	r.DeadlocksDetectedTotal.Inc()
}

// RecordDeadlockResolved counts a circular wait broken by an override.
func (r *Registry) RecordDeadlockResolved() {
	if r == nil {
		return
	}
	r.DeadlocksResolvedTotal.Inc()
}

// SetDeadlockLocks records the number of unexpired override locks.
func (r *Registry) SetDeadlockLocks(n int) {
	if r == nil {
		return
	}
	r.DeadlockLocksActive.Set(float64(n))
}

// RecordPublish counts an event published on topic.
func (r *Registry) RecordPublish(topic string) {
	if r == nil {
		return
	}
	r.BusEventsPublishedTotal.WithLabelValues(topic).Inc()
}

// RecordHandlerFailure counts a recovered subscriber failure on topic.
func (r *Registry) RecordHandlerFailure(topic string) {
	if r == nil {
		return
	}
	r.BusHandlerFailuresTotal.WithLabelValues(topic).Inc()
}

// RecordControllerFailure counts a failed train control callback.
func (r *Registry) RecordControllerFailure() {
	if r == nil {
		return
	}
	r.ControllerFailuresTotal.Inc()
}

// RecordPathQuery records a path finder query and its latency.
func (r *Registry) RecordPathQuery(found bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcome := "none"
	if found {
		outcome = "found"
	}
	r.PathQueriesTotal.WithLabelValues(outcome).Inc()
	r.PathQueryDuration.Observe(duration.Seconds())
}

// RecordExplorerStep records one exploration slice.
func (r *Registry) RecordExplorerStep(pops, pending int) {
	if r == nil {
		return
	}
	r.ExplorerPopsTotal.Add(float64(pops))
	r.ExplorerPending.Set(float64(pending))
}

// SetSnapshotVersion records the published graph version.
func (r *Registry) SetSnapshotVersion(v uint64) {
	if r == nil {
		return
	}
	r.GraphSnapshotVersion.Set(float64(v))
}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes uptime, goroutine and memory gauges.
func (r *Registry) UpdateSystemMetrics(started time.Time) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.UptimeSeconds.Set(time.Since(started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(mem.Alloc))
	r.MemorySysBytes.Set(float64(mem.Sys))
}
