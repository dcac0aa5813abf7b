package risk

import (
	"context"
	"log/slog"
	"math"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"safe-route-server/geo"
)

// Method names the pass that detected a zone.
type Method string

const (
	MethodInZone   Method = "IN_ZONE"
	MethodSegment  Method = "SEGMENT_INTERSECTION"
	MethodCentroid Method = "CENTROID_PROXIMITY"
)

// Config holds the evaluator tunables.
type Config struct {
	SampleLimit       int     `yaml:"sample_limit" validate:"gte=1"`
	SegmentStepMeters float64 `yaml:"segment_step_meters" validate:"gt=0"`
	MinSegmentSamples int     `yaml:"min_segment_samples" validate:"gte=1"`
	ProximityMeters   float64 `yaml:"proximity_meters" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		SampleLimit:       500,
		SegmentStepMeters: 50,
		MinSegmentSamples: 5,
		ProximityMeters:   300,
	}
}

// Detection records the first time a zone was hit on a route.
type Detection struct {
	ZoneID         string         `json:"zone"`
	Method         Method         `json:"method"`
	DistanceMeters float64        `json:"distance"`
	Point          geo.Coordinate `json:"coordinates"`
	RiskValue      float64        `json:"risk_numeric"`
	Category       Category       `json:"riskCategory"`
}

// Counts tallies detections by category.
type Counts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

func (c Counts) Total() int { return c.High + c.Medium + c.Low }

func (c *Counts) add(cat Category) {
	switch cat {
	case High:
		c.High++
	case Medium:
		c.Medium++
	default:
		c.Low++
	}
}

// Assessment is the risk evaluation of one route.
type Assessment struct {
	RouteIndex    int         `json:"routeIndex"`
	Score         float64     `json:"riskScore"`
	Counts        Counts      `json:"riskStats"`
	Detections    []Detection `json:"detectedRisks"`
	DetectedZones []string    `json:"detectedZones"`
	SampledPoints int         `json:"totalPoints"`
}

// Score returns the mean of values, or 0 for none.
func Score(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

type preparedZone struct {
	zone     Zone
	ring     orb.Ring
	bound    orb.Bound
	centroid geo.Coordinate
}

func (p *preparedZone) contains(c geo.Coordinate) bool {
	pt := c.Point()
	if !p.bound.Contains(pt) {
		return false
	}
	return planar.RingContains(p.ring, pt)
}

// prepare drops rings that cannot be evaluated and caches the geometry the
// passes need.
func prepare(zones []Zone, logger *slog.Logger) []preparedZone {
	out := make([]preparedZone, 0, len(zones))
	for _, z := range zones {
		if !z.Valid() {
			logger.Debug("skipping zone with short ring", "zone", z.ID, "points", len(z.Ring))
			continue
		}
		ring := geo.Ring(z.Ring)
		centroid, _ := geo.Centroid(z.Ring)
		out = append(out, preparedZone{
			zone:     z,
			ring:     ring,
			bound:    ring.Bound(),
			centroid: centroid,
		})
	}
	return out
}

// Evaluator scores route geometries against hazard zones.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

func NewEvaluator(cfg Config, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate scores one route with the default configuration.
func Evaluate(geometry []geo.Coordinate, zones []Zone) Assessment {
	return NewEvaluator(DefaultConfig(), nil).Evaluate(geometry, zones)
}

// Evaluate runs the three detection passes over geometry. Each zone id is
// reported at most once, by the first pass and point that hits it: point
// sampling, then segment interpolation, then centroid proximity.
func (e *Evaluator) Evaluate(geometry []geo.Coordinate, zones []Zone) Assessment {
	return e.evaluate(geometry, prepare(zones, e.logger))
}

func (e *Evaluator) evaluate(geometry []geo.Coordinate, zones []preparedZone) Assessment {
	sampled := e.sample(geometry)
	// keyed by zone id: a zone listed twice is still counted once
	detected := make(map[string]bool, len(zones))
	var a Assessment
	a.SampledPoints = len(sampled)

	record := func(i int, method Method, p geo.Coordinate, distance float64) {
		z := zones[i].zone
		detected[z.ID] = true
		cat := z.Category()
		a.Detections = append(a.Detections, Detection{
			ZoneID:         z.ID,
			Method:         method,
			DistanceMeters: distance,
			Point:          p,
			RiskValue:      z.RiskValue,
			Category:       cat,
		})
		a.DetectedZones = append(a.DetectedZones, z.ID)
		a.Counts.add(cat)
	}

	for _, p := range sampled {
		for i := range zones {
			if !detected[zones[i].zone.ID] && zones[i].contains(p) {
				record(i, MethodInZone, p, 0)
			}
		}
	}

	for s := 0; s+1 < len(geometry); s++ {
		a0, b0 := geometry[s], geometry[s+1]
		n := 0
		if e.cfg.SegmentStepMeters > 0 {
			n = int(math.Ceil(geo.Haversine(a0, b0) / e.cfg.SegmentStepMeters))
		}
		if n < e.cfg.MinSegmentSamples {
			n = e.cfg.MinSegmentSamples
		}
		for _, p := range geo.Interpolate(a0, b0, n) {
			for i := range zones {
				if !detected[zones[i].zone.ID] && zones[i].contains(p) {
					record(i, MethodSegment, p, 0)
				}
			}
		}
	}

	for _, p := range sampled {
		for i := range zones {
			if detected[zones[i].zone.ID] {
				continue
			}
			if d := geo.Haversine(p, zones[i].centroid); d <= e.cfg.ProximityMeters {
				record(i, MethodCentroid, p, d)
			}
		}
	}

	values := make([]float64, len(a.Detections))
	for i, d := range a.Detections {
		values[i] = d.RiskValue
	}
	a.Score = Score(values)
	return a
}

// sample keeps every stride-th point, stride = max(1, len/SampleLimit).
func (e *Evaluator) sample(geometry []geo.Coordinate) []geo.Coordinate {
	limit := e.cfg.SampleLimit
	if limit < 1 {
		limit = 1
	}
	stride := len(geometry) / limit
	if stride < 1 {
		return geometry
	}
	out := make([]geo.Coordinate, 0, len(geometry)/stride+1)
	for i := 0; i < len(geometry); i += stride {
		out = append(out, geometry[i])
	}
	return out
}

// EvaluateAll scores several routes concurrently. Results keep the input
// order and carry their route index.
func (e *Evaluator) EvaluateAll(ctx context.Context, geometries [][]geo.Coordinate, zones []Zone) ([]Assessment, error) {
	prepared := prepare(zones, e.logger)
	results := make([]Assessment, len(geometries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, geometry := range geometries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.evaluate(geometry, prepared)
			results[i].RouteIndex = i
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("risk evaluation complete", "routes", len(geometries), "zones", len(prepared))
	return results, nil
}
