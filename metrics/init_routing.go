package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRoutingMetrics() {
	r.RouteComputationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoute_route_computations_total",
			Help: "Route computations by outcome (ok, no_path, error)",
		},
		[]string{"outcome"},
	)

	r.RouteComputationDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saferoute_route_computation_duration_seconds",
			Help:    "Time spent computing primary and alternative routes",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	r.RoutesPerRequest = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saferoute_routes_per_request",
			Help:    "Number of distinct routes returned per computation",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	r.GraphNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "saferoute_graph_nodes",
			Help: "Nodes in the loaded road graph",
		},
	)

	r.GraphEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "saferoute_graph_edges",
			Help: "Directed edges in the loaded road graph",
		},
	)
}

func (r *Registry) initRiskMetrics() {
	r.RiskEvaluationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "saferoute_risk_evaluations_total",
			Help: "Routes scored against hazard zones",
		},
	)

	r.RiskDetectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoute_risk_detections_total",
			Help: "Zone detections by method and category",
		},
		[]string{"method", "category"},
	)

	r.RiskEvaluationDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saferoute_risk_evaluation_duration_seconds",
			Help:    "Time spent scoring one batch of routes",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.ZonesLoaded = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "saferoute_zones_loaded",
			Help: "Hazard zones in the current snapshot",
		},
	)

	r.ZoneReloadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoute_zone_reloads_total",
			Help: "Zone snapshot reloads by source and outcome",
		},
		[]string{"source", "outcome"},
	)
}

func (r *Registry) initNavigationMetrics() {
	r.NavigationSessionsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "saferoute_navigation_sessions_active",
			Help: "Navigation sessions currently monitoring",
		},
	)

	r.DeviationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "saferoute_deviations_total",
			Help: "Off-route deviations detected",
		},
	)

	r.RecalculationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoute_recalculations_total",
			Help: "Route recalculations by outcome (ok, no_route, timeout, cancelled, error)",
		},
		[]string{"outcome"},
	)

	r.ZoneAlertsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "saferoute_zone_alerts_total",
			Help: "Zone proximity alerts emitted by level",
		},
		[]string{"level"},
	)
}
