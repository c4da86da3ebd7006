package health

import (
	"time"
)

// NewHealthChecker creates a checker. A nil clock uses time.Now.
func NewHealthChecker(clock func() time.Time) *HealthChecker {
	if clock == nil {
		clock = time.Now
	}
	return &HealthChecker{
		checks:      make(map[string]CheckFunc),
		readyChecks: make(map[string]CheckFunc),
		liveChecks:  make(map[string]CheckFunc),
		started:     clock(),
		clock:       clock,
	}
}

// RegisterCheck adds a check to the full report.
func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// RegisterReadinessCheck adds a check run by CheckReadiness.
func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readyChecks[name] = check
}

// RegisterLivenessCheck adds a check run by CheckLiveness.
func (hc *HealthChecker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.liveChecks[name] = check
}

// Check runs the full report.
func (hc *HealthChecker) Check() Response {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.run(hc.checks)
}

// CheckReadiness runs readiness checks.
func (hc *HealthChecker) CheckReadiness() Response {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.run(hc.readyChecks)
}

// CheckLiveness runs liveness checks.
func (hc *HealthChecker) CheckLiveness() Response {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.run(hc.liveChecks)
}

func (hc *HealthChecker) run(checks map[string]CheckFunc) Response {
	now := hc.clock()
	resp := Response{
		Status:    StatusHealthy,
		Timestamp: now,
		Checks:    make(map[string]Check, len(checks)),
		Uptime:    now.Sub(hc.started),
	}

	for name, fn := range checks {
		start := time.Now()
		c := fn()
		c.Duration = time.Since(start)
		c.LastChecked = now
		if c.Name == "" {
			c.Name = name
		}
		resp.Checks[name] = c
		resp.Status = worse(resp.Status, c.Status)
	}
	return resp
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
