package server

import (
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-dispatch/pkg/diagnostics"
	"github.com/dd0wney/cluso-dispatch/pkg/health"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
)

// Routes selects the endpoints NewMux mounts. Nil parts are left out.
type Routes struct {
	Metrics *metrics.Registry
	Health  *health.HealthChecker
	// Schema is served on /graphql when Diagnostics is true.
	Schema      graphql.Schema
	Diagnostics bool
	Logger      logging.Logger
}

// NewMux builds the operational handler:
//
//	GET  /metrics        Prometheus exposition
//	GET  /health         full health report
//	GET  /health/ready   readiness probe
//	GET  /health/live    liveness probe
//	GET|POST /graphql    diagnostics queries
func NewMux(rt Routes) http.Handler {
	mux := http.NewServeMux()
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(rt.Metrics.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	}
	if rt.Health != nil {
		mux.Handle("GET /health", rt.Health.HTTPHandler())
		mux.Handle("GET /health/ready", rt.Health.ReadinessHandler())
		mux.Handle("GET /health/live", rt.Health.LivenessHandler())
	}
	if rt.Diagnostics {
		mux.Handle("/graphql", diagnostics.NewHandler(rt.Schema))
	}
	return Chain(mux, Recover(rt.Logger), Metrics(rt.Metrics), Logging(rt.Logger))
}
