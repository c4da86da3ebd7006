package health

import (
	"context"
	"runtime"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// StoreCheck pings the claim store. A failed ping is unhealthy.
func StoreCheck(ping func(ctx context.Context) error, timeout time.Duration) CheckFunc {
	return func() Check {
		c := Check{Name: "claim_store"}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			c.Status = StatusUnhealthy
			c.Message = err.Error()
			return c
		}
		c.Status = StatusHealthy
		c.Message = "Connected"
		return c
	}
}

// GraphCheck reports the published network. An empty network is unhealthy
// because no request can be built against it.
func GraphCheck(snapshot func() railgraph.Snapshot) CheckFunc {
	return func() Check {
		s := snapshot()
		nodes, edges := len(s.Graph.Nodes()), len(s.Graph.Edges())
		c := Check{
			Name: "graph",
			Details: map[string]any{
				"version": s.Version,
				"nodes":   nodes,
				"edges":   edges,
			},
		}
		if nodes == 0 {
			c.Status = StatusUnhealthy
			c.Message = "No network published"
			return c
		}
		c.Status = StatusHealthy
		c.Message = "Network published"
		return c
	}
}

// WaitQueueCheck is degraded once more than limit trains are queued.
func WaitQueueCheck(queues func() map[occupancy.Resource][]string, limit int) CheckFunc {
	return func() Check {
		trains := map[string]bool{}
		for _, q := range queues() {
			for _, t := range q {
				trains[t] = true
			}
		}
		c := Check{
			Name:    "wait_queues",
			Details: map[string]any{"waiting_trains": len(trains), "limit": limit},
		}
		if len(trains) > limit {
			c.Status = StatusDegraded
			c.Message = "Many trains waiting"
			return c
		}
		c.Status = StatusHealthy
		return c
	}
}

// DeadlockCheck is degraded while override locks are live: the network is
// running on deadlock resolutions.
func DeadlockCheck(lockCount func() int) CheckFunc {
	return func() Check {
		n := lockCount()
		c := Check{
			Name:    "deadlocks",
			Details: map[string]any{"active_locks": n},
		}
		if n > 0 {
			c.Status = StatusDegraded
			c.Message = "Deadlock overrides active"
			return c
		}
		c.Status = StatusHealthy
		return c
	}
}

// MemoryCheck is degraded when the heap uses more than 90% of memory
// obtained from the OS.
func MemoryCheck() CheckFunc {
	return func() Check {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return memoryCheck(ms.HeapAlloc, ms.Sys)
	}
}

func memoryCheck(alloc, sys uint64) Check {
	c := Check{
		Name:    "memory",
		Details: map[string]any{"alloc_bytes": alloc, "sys_bytes": sys},
	}
	if sys > 0 && float64(alloc)/float64(sys) > 0.9 {
		c.Status = StatusDegraded
		c.Message = "High memory usage"
		return c
	}
	c.Status = StatusHealthy
	c.Message = "Memory usage normal"
	return c
}
