package metrics

import (
	"time"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordRouteComputation records one ComputeRoutes call
func (r *Registry) RecordRouteComputation(outcome string, routes int, duration time.Duration) {
	r.RouteComputationsTotal.WithLabelValues(outcome).Inc()
	r.RouteComputationDuration.Observe(duration.Seconds())
	r.RoutesPerRequest.Observe(float64(routes))
}

// RecordDetection counts a zone detection
func (r *Registry) RecordDetection(method, category string) {
	r.RiskDetectionsTotal.WithLabelValues(method, category).Inc()
}

// RecordRiskEvaluation records a batch of scored routes
func (r *Registry) RecordRiskEvaluation(routes int, duration time.Duration) {
	r.RiskEvaluationsTotal.Add(float64(routes))
	r.RiskEvaluationDuration.Observe(duration.Seconds())
}

// SetGraphSize publishes the loaded graph dimensions
func (r *Registry) SetGraphSize(nodes, edges int) {
	r.GraphNodes.Set(float64(nodes))
	r.GraphEdges.Set(float64(edges))
}

// RecordZoneReload records a zone snapshot swap
func (r *Registry) RecordZoneReload(source string, zones int, err error) {
	if err != nil {
		r.ZoneReloadsTotal.WithLabelValues(source, "error").Inc()
		return
	}
	r.ZoneReloadsTotal.WithLabelValues(source, "ok").Inc()
	r.ZonesLoaded.Set(float64(zones))
}

// RecordRecalculation counts a deviation recalculation by outcome
func (r *Registry) RecordRecalculation(outcome string) {
	r.RecalculationsTotal.WithLabelValues(outcome).Inc()
}
