package planner

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"safe-route-server/geo"
	"safe-route-server/metrics"
	"safe-route-server/risk"
	"safe-route-server/routing"
)

var (
	cornerA = geo.Coordinate{Lat: 0, Lon: 0}
	cornerB = geo.Coordinate{Lat: 0, Lon: 0.01}
	cornerC = geo.Coordinate{Lat: 0.01, Lon: 0.01}
	cornerD = geo.Coordinate{Lat: 0.01, Lon: 0}
)

// kmSquare is a square of about 1.1 km sides with a cheap direct A-D road.
func kmSquare(t *testing.T) *routing.Graph {
	t.Helper()
	g := routing.NewGraph()
	for id, c := range map[int64]geo.Coordinate{1: cornerA, 2: cornerB, 3: cornerC, 4: cornerD} {
		g.AddNode(id, c.Lat, c.Lon)
	}
	require.NoError(t, g.AddRoad(1, 2, geo.Haversine(cornerA, cornerB), "primary"))
	require.NoError(t, g.AddRoad(2, 3, geo.Haversine(cornerB, cornerC), "Boulevard Zerktouni"))
	require.NoError(t, g.AddRoad(3, 4, geo.Haversine(cornerC, cornerD), "secondary_link"))
	require.NoError(t, g.AddRoad(1, 4, 1500, "Route Côtière"))
	return g
}

// hazardOnDirect sits across the direct A-D road, far from the detour.
func hazardOnDirect() risk.Zone {
	return risk.Zone{
		ID: "flood",
		Ring: []geo.Coordinate{
			{Lat: 0.0045, Lon: -0.0005},
			{Lat: 0.0045, Lon: 0.0005},
			{Lat: 0.0055, Lon: 0.0005},
			{Lat: 0.0055, Lon: -0.0005},
		},
		RiskValue: 0.9,
	}
}

func TestComputeRoutesMarksSafestAlternative(t *testing.T) {
	reg := metrics.NewRegistry()
	p := New(kmSquare(t), Options{Zones: StaticZones{hazardOnDirect()}, Metrics: reg})

	res, err := p.ComputeRoutes(context.Background(), Request{Start: cornerA, End: cornerD, Alternatives: 3})
	require.NoError(t, err)

	// the third search falls back to the direct road and is dropped as a repeat
	require.Len(t, res.Routes, 2)
	direct, detour := res.Routes[0], res.Routes[1]

	assert.Equal(t, []int64{1, 4}, direct.Nodes)
	assert.Equal(t, []int64{1, 2, 3, 4}, detour.Nodes)

	assert.InDelta(t, 0.9, direct.RiskScore, 1e-12)
	assert.Equal(t, risk.Counts{High: 1}, direct.ZoneCounts)
	require.Len(t, direct.Detections, 1)
	assert.Equal(t, risk.MethodSegment, direct.Detections[0].Method)
	assert.False(t, direct.IsSafePath)

	assert.Zero(t, detour.RiskScore)
	assert.True(t, detour.IsSafePath)
	assert.Equal(t, 1, res.SafePathIndex)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.RouteComputationsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.RiskDetectionsTotal.WithLabelValues("SEGMENT_INTERSECTION", "high")))
}

func TestComputeRoutesDistanceDurationAndInstructions(t *testing.T) {
	p := New(kmSquare(t), Options{})

	res, err := p.ComputeRoutes(context.Background(), Request{Start: cornerA, End: cornerD, Alternatives: 2})
	require.NoError(t, err)
	require.Len(t, res.Routes, 2)

	direct := res.Routes[0]
	assert.InDelta(t, 1500, direct.DistanceMeters, 1e-9)
	assert.InDelta(t, 1500.0/1000/40*60, direct.DurationMinutes, 1e-9)
	assert.Equal(t, []geo.Coordinate{cornerA, cornerD}, direct.Geometry)

	detour := res.Routes[1]
	require.Len(t, detour.Instructions, 4)
	assert.Equal(t, routing.DepartText, detour.Instructions[0].Text)
	assert.Equal(t, "Turn left on Boulevard Zerktouni", detour.Instructions[1].Text)
	assert.Equal(t, "Turn left on Secondary road ramp", detour.Instructions[2].Text)
	assert.Equal(t, routing.ArriveText, detour.Instructions[3].Text)

	// with no zones every score is zero and the first route wins
	assert.Equal(t, 0, res.SafePathIndex)
	assert.True(t, direct.IsSafePath)
}

func TestComputeRoutesDestinationTail(t *testing.T) {
	p := New(kmSquare(t), Options{})
	end := geo.Coordinate{Lat: 0.0102, Lon: 0}

	res, err := p.ComputeRoutes(context.Background(), Request{Start: cornerA, End: end, Alternatives: 1})
	require.NoError(t, err)
	require.Len(t, res.Routes, 1)

	r := res.Routes[0]
	require.Len(t, r.Geometry, 3)
	assert.Equal(t, end, r.Geometry[2])
	assert.InDelta(t, 1500+geo.Haversine(cornerD, end), r.DistanceMeters, 1e-9)

	coords, rest, err := polyline.DecodeCoords([]byte(r.Polyline))
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, coords, 3)
	assert.InDelta(t, end.Lat, coords[2][0], 1e-5)
}

func TestComputeRoutesNoPath(t *testing.T) {
	g := kmSquare(t)
	g.AddNode(99, 1, 1)
	reg := metrics.NewRegistry()
	p := New(g, Options{Metrics: reg})

	res, err := p.ComputeRoutes(context.Background(), Request{Start: cornerA, End: geo.Coordinate{Lat: 1, Lon: 1}})
	require.NoError(t, err)
	assert.Empty(t, res.Routes)
	assert.Equal(t, -1, res.SafePathIndex)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.RouteComputationsTotal.WithLabelValues("no_path")))
}

func TestComputeRoutesValidation(t *testing.T) {
	p := New(kmSquare(t), Options{})

	_, err := p.ComputeRoutes(context.Background(), Request{Start: geo.Coordinate{Lat: 91}, End: cornerD})
	assert.True(t, errors.Is(err, ErrInvalidCoordinate))

	_, err = p.ComputeRoutes(context.Background(), Request{Start: cornerA, End: geo.Coordinate{Lat: math.NaN()}})
	assert.True(t, errors.Is(err, ErrInvalidCoordinate))

	_, err = New(routing.NewGraph(), Options{}).ComputeRoutes(context.Background(), Request{Start: cornerA, End: cornerD})
	assert.True(t, errors.Is(err, ErrGraphNotLoaded))

	_, err = New(nil, Options{}).ComputeRoutes(context.Background(), Request{Start: cornerA, End: cornerD})
	assert.True(t, errors.Is(err, ErrGraphNotLoaded))
}

func TestRecalculateReturnsSafest(t *testing.T) {
	p := New(kmSquare(t), Options{Zones: StaticZones{hazardOnDirect()}})

	r, err := p.Recalculate(context.Background(), cornerA, cornerD)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, r.Nodes)
	assert.True(t, r.IsSafePath)

	g := kmSquare(t)
	g.AddNode(99, 1, 1)
	_, err = New(g, Options{}).Recalculate(context.Background(), cornerA, geo.Coordinate{Lat: 1, Lon: 1})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestEvaluateRisk(t *testing.T) {
	p := New(kmSquare(t), Options{Zones: StaticZones{hazardOnDirect()}})
	geometries := [][]geo.Coordinate{
		{cornerA, cornerD},
		{cornerA, cornerB, cornerC, cornerD},
	}

	report, err := p.EvaluateRisk(context.Background(), geometries, nil)
	require.NoError(t, err)
	require.Len(t, report.Analysis, 2)
	assert.Equal(t, 1, report.SafePathIndex)
	assert.Zero(t, report.SafePathRiskScore)
	assert.Equal(t, 1, report.TotalZones)
	assert.Equal(t, 1, report.TotalDetections)
	assert.Equal(t, 300.0, report.ProximityThreshold)

	// explicit zones replace the provider's
	report, err = p.EvaluateRisk(context.Background(), geometries, []risk.Zone{})
	require.NoError(t, err)
	assert.Zero(t, report.TotalDetections)
	assert.Equal(t, 0, report.SafePathIndex)
}

func TestUniquePaths(t *testing.T) {
	in := [][]int64{{1, 2}, {1, 3, 2}, {1, 2}, {1, 3, 2}, {1, 4, 2}}
	assert.Equal(t, [][]int64{{1, 2}, {1, 3, 2}, {1, 4, 2}}, uniquePaths(in))
}

func TestRouteJSONUsesLatLonPairs(t *testing.T) {
	r := Route{
		Geometry:       []geo.Coordinate{{Lat: 33.5, Lon: -7.6}, {Lat: 33.6, Lon: -7.5}},
		DistanceMeters: 1200,
		IsSafePath:     true,
		Nodes:          []int64{1, 2},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{[]any{33.5, -7.6}, []any{33.6, -7.5}}, decoded["geometry"])
	assert.Equal(t, 1200.0, decoded["distance"])
	assert.Equal(t, true, decoded["isSafePath"])
	assert.NotContains(t, decoded, "Nodes")
}

func TestFromLatLonPairs(t *testing.T) {
	coords, ok := FromLatLonPairs([][]float64{{1, 2}, {3, 4, 99}})
	require.True(t, ok)
	assert.Equal(t, []geo.Coordinate{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}}, coords)

	_, ok = FromLatLonPairs([][]float64{{1}})
	assert.False(t, ok)
}

func TestRouteJSONDecodesLatLonPairs(t *testing.T) {
	var r Route
	require.NoError(t, json.Unmarshal([]byte(`{"geometry":[[33.5,-7.6],[33.6,-7.5]],"distance":1200,"riskScore":0.4}`), &r))
	assert.Equal(t, []geo.Coordinate{{Lat: 33.5, Lon: -7.6}, {Lat: 33.6, Lon: -7.5}}, r.Geometry)
	assert.Equal(t, 1200.0, r.DistanceMeters)
	assert.Equal(t, 0.4, r.RiskScore)

	assert.Error(t, json.Unmarshal([]byte(`{"geometry":[[33.5]]}`), &r))
}
