package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/twpayne/go-polyline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"safe-route-server/geo"
	"safe-route-server/metrics"
	"safe-route-server/risk"
	"safe-route-server/routing"
	"safe-route-server/telemetry"
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrGraphNotLoaded    = errors.New("road graph not loaded")
	ErrNoRoute           = errors.New("no route found")
)

// Route is one candidate itinerary returned to callers.
type Route struct {
	Geometry        []geo.Coordinate      `json:"geometry"`
	Polyline        string                `json:"polyline"`
	Instructions    []routing.Instruction `json:"instructions"`
	DistanceMeters  float64               `json:"distance"`
	DurationMinutes float64               `json:"duration"`
	RiskScore       float64               `json:"riskScore"`
	ZoneCounts      risk.Counts           `json:"riskZoneCounts"`
	Detections      []risk.Detection      `json:"detections,omitempty"`
	IsSafePath      bool                  `json:"isSafePath"`

	Nodes []int64 `json:"-"`
}

// Request asks for routes between two coordinates.
type Request struct {
	Start        geo.Coordinate
	End          geo.Coordinate
	Alternatives int
}

// Result holds the computed routes; SafePathIndex is -1 when there are none.
type Result struct {
	Routes        []Route `json:"routes"`
	SafePathIndex int     `json:"safePathIndex"`
}

// RiskReport is the outcome of scoring externally supplied routes.
type RiskReport struct {
	Analysis           []risk.Assessment `json:"analysis"`
	SafePathIndex      int               `json:"safePathIndex"`
	SafePathRiskScore  float64           `json:"safePathRiskScore"`
	TotalZones         int               `json:"totalZones"`
	TotalDetections    int               `json:"totalDetections"`
	ProximityThreshold float64           `json:"proximityThreshold"`
}

// ZoneProvider supplies the current hazard zones.
type ZoneProvider interface {
	Zones() []risk.Zone
}

// StaticZones is a fixed zone list.
type StaticZones []risk.Zone

func (s StaticZones) Zones() []risk.Zone { return s }

// Config holds planner tunables.
type Config struct {
	AverageSpeedKmh float64 `yaml:"average_speed_kmh" validate:"gt=0"`
	// geometry is extended to the requested destination when the last
	// graph node is farther than this
	DestinationTailMeters float64 `yaml:"destination_tail_meters" validate:"gte=0"`
	MaxAlternatives       int     `yaml:"max_alternatives" validate:"gte=1,lte=10"`
}

func DefaultConfig() Config {
	return Config{
		AverageSpeedKmh:       40,
		DestinationTailMeters: 1,
		MaxAlternatives:       routing.MaxAlternatives,
	}
}

// Options carries the planner collaborators. Only the graph is required.
type Options struct {
	Config    Config
	Zones     ZoneProvider
	Evaluator *risk.Evaluator
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Planner computes and scores truck routes over a loaded road graph.
type Planner struct {
	graph     *routing.Graph
	zones     ZoneProvider
	evaluator *risk.Evaluator
	metrics   *metrics.Registry
	logger    *slog.Logger
	cfg       Config
}

func New(graph *routing.Graph, opts Options) *Planner {
	p := &Planner{
		graph:     graph,
		zones:     opts.Zones,
		evaluator: opts.Evaluator,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		cfg:       opts.Config,
	}
	if p.zones == nil {
		p.zones = StaticZones(nil)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.evaluator == nil {
		p.evaluator = risk.NewEvaluator(risk.DefaultConfig(), p.logger)
	}
	if p.cfg == (Config{}) {
		p.cfg = DefaultConfig()
	}
	return p
}

func (p *Planner) Graph() *routing.Graph { return p.graph }

func (p *Planner) Zones() []risk.Zone { return p.zones.Zones() }

func validCoordinate(name string, c geo.Coordinate) error {
	if !c.Valid() {
		return fmt.Errorf("%s (%v, %v): %w", name, c.Lat, c.Lon, ErrInvalidCoordinate)
	}
	return nil
}

// ComputeRoutes snaps both ends to the nearest graph nodes, generates the
// primary route and its alternatives, scores each against the current zones
// and flags the safest one. No path is not an error: the result is empty.
func (p *Planner) ComputeRoutes(ctx context.Context, req Request) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "planner.ComputeRoutes")
	defer span.End()
	started := time.Now()

	result, err := p.computeRoutes(ctx, req)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(result.Routes) == 0:
		outcome = "no_path"
	}
	span.SetAttributes(
		attribute.Int("routes", len(result.Routes)),
		attribute.Int("safe_path_index", result.SafePathIndex),
	)
	if p.metrics != nil {
		p.metrics.RecordRouteComputation(outcome, len(result.Routes), time.Since(started))
	}
	return result, err
}

func (p *Planner) computeRoutes(ctx context.Context, req Request) (Result, error) {
	empty := Result{Routes: []Route{}, SafePathIndex: -1}
	if err := validCoordinate("start", req.Start); err != nil {
		return empty, err
	}
	if err := validCoordinate("end", req.End); err != nil {
		return empty, err
	}
	if p.graph == nil || p.graph.NodeCount() == 0 {
		return empty, ErrGraphNotLoaded
	}

	startNode, startDist, err := p.graph.NearestNode(req.Start)
	if err != nil {
		return empty, err
	}
	endNode, endDist, err := p.graph.NearestNode(req.End)
	if err != nil {
		return empty, err
	}
	p.logger.Debug("snapped request to graph",
		"start_node", startNode, "start_offset_m", startDist,
		"end_node", endNode, "end_offset_m", endDist)

	k := req.Alternatives
	if k <= 0 || k > p.cfg.MaxAlternatives {
		k = p.cfg.MaxAlternatives
	}
	paths, err := p.graph.FindAlternatives(ctx, startNode, endNode, k)
	if err != nil {
		return empty, fmt.Errorf("find alternatives: %w", err)
	}

	routes := make([]Route, 0, len(paths))
	for _, path := range uniquePaths(paths) {
		routes = append(routes, p.buildRoute(path, req.End))
	}
	if len(routes) == 0 {
		p.logger.Info("no path between request endpoints", "start_node", startNode, "end_node", endNode)
		return empty, nil
	}

	safe, err := p.score(ctx, routes, p.zones.Zones())
	if err != nil {
		return empty, err
	}
	return Result{Routes: routes, SafePathIndex: safe}, nil
}

// Recalculate computes routes from a live position and returns the safest.
// It satisfies the navigation recalculator contract.
func (p *Planner) Recalculate(ctx context.Context, from, to geo.Coordinate) (Route, error) {
	res, err := p.ComputeRoutes(ctx, Request{Start: from, End: to})
	if err != nil {
		return Route{}, err
	}
	if res.SafePathIndex < 0 {
		return Route{}, ErrNoRoute
	}
	return res.Routes[res.SafePathIndex], nil
}

// EvaluateRisk scores caller supplied geometries. A nil zone list means the
// planner's current zones.
func (p *Planner) EvaluateRisk(ctx context.Context, geometries [][]geo.Coordinate, zones []risk.Zone) (RiskReport, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "planner.EvaluateRisk")
	defer span.End()
	started := time.Now()

	if zones == nil {
		zones = p.zones.Zones()
	}
	assessments, err := p.evaluator.EvaluateAll(ctx, geometries, zones)
	if err != nil {
		span.RecordError(err)
		return RiskReport{}, err
	}
	p.observe(assessments, started)

	report := RiskReport{
		Analysis:           assessments,
		SafePathIndex:      risk.SafestAssessment(assessments),
		TotalZones:         len(zones),
		ProximityThreshold: p.evaluator.Config().ProximityMeters,
	}
	for _, a := range assessments {
		report.TotalDetections += a.Counts.Total()
	}
	if report.SafePathIndex >= 0 {
		report.SafePathRiskScore = assessments[report.SafePathIndex].Score
	}
	span.SetAttributes(attribute.Int("routes", len(geometries)), attribute.Int("safe_path_index", report.SafePathIndex))
	return report, nil
}

func (p *Planner) score(ctx context.Context, routes []Route, zones []risk.Zone) (int, error) {
	started := time.Now()
	geometries := make([][]geo.Coordinate, len(routes))
	for i := range routes {
		geometries[i] = routes[i].Geometry
	}
	assessments, err := p.evaluator.EvaluateAll(ctx, geometries, zones)
	if err != nil {
		return -1, fmt.Errorf("evaluate risk: %w", err)
	}
	p.observe(assessments, started)

	for i, a := range assessments {
		routes[i].RiskScore = a.Score
		routes[i].ZoneCounts = a.Counts
		routes[i].Detections = a.Detections
	}
	safe := risk.SafestAssessment(assessments)
	if safe >= 0 {
		routes[safe].IsSafePath = true
	}
	return safe, nil
}

func (p *Planner) observe(assessments []risk.Assessment, started time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordRiskEvaluation(len(assessments), time.Since(started))
	for _, a := range assessments {
		for _, d := range a.Detections {
			p.metrics.RecordDetection(string(d.Method), string(d.Category))
		}
	}
}

func (p *Planner) buildRoute(path []int64, destination geo.Coordinate) Route {
	geometry := p.graph.PathCoordinates(path)
	distance := p.graph.PathDistance(path)

	if n := len(geometry); n > 0 {
		if tail := geo.Haversine(geometry[n-1], destination); tail > p.cfg.DestinationTailMeters {
			geometry = append(geometry, destination)
			distance += tail
		}
	}

	return Route{
		Geometry:        geometry,
		Polyline:        encodePolyline(geometry),
		Instructions:    routing.Compile(path, p.graph, p.graph),
		DistanceMeters:  distance,
		DurationMinutes: distance / 1000 / p.cfg.AverageSpeedKmh * 60,
		Nodes:           path,
	}
}

// uniquePaths drops repeated node sequences, keeping first occurrences.
func uniquePaths(paths [][]int64) [][]int64 {
	out := make([][]int64, 0, len(paths))
	for _, path := range paths {
		if !slices.ContainsFunc(out, func(seen []int64) bool { return slices.Equal(seen, path) }) {
			out = append(out, path)
		}
	}
	return out
}

func encodePolyline(geometry []geo.Coordinate) string {
	coords := make([][]float64, len(geometry))
	for i, c := range geometry {
		coords[i] = []float64{c.Lat, c.Lon}
	}
	return string(polyline.EncodeCoords(coords))
}
