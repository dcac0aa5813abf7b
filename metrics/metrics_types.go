package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPRateLimited      prometheus.Counter

	// Routing Metrics
	RouteComputationsTotal   *prometheus.CounterVec
	RouteComputationDuration prometheus.Histogram
	RoutesPerRequest         prometheus.Histogram
	GraphNodes               prometheus.Gauge
	GraphEdges               prometheus.Gauge

	// Risk Metrics
	RiskEvaluationsTotal   prometheus.Counter
	RiskDetectionsTotal    *prometheus.CounterVec
	RiskEvaluationDuration prometheus.Histogram
	ZonesLoaded            prometheus.Gauge
	ZoneReloadsTotal       *prometheus.CounterVec

	// Navigation Metrics
	NavigationSessionsActive prometheus.Gauge
	DeviationsTotal          prometheus.Counter
	RecalculationsTotal      *prometheus.CounterVec
	ZoneAlertsTotal          *prometheus.CounterVec

	registry *prometheus.Registry
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
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
	}

	r.initHTTPMetrics()
	r.initRoutingMetrics()
	r.initRiskMetrics()
	r.initNavigationMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
