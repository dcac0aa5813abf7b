package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe-route-server/geo"
)

func TestHumanizeRoadName(t *testing.T) {
	cases := map[string]string{
		"":               "unnamed road",
		"   ":            "unnamed road",
		"primary_link":   "Primary road ramp",
		"motorway":       "Motorway",
		"trunk link":     "Expressway ramp",
		"Rue de Paris":   "Rue de Paris",
		"boulevard_anfa": "Boulevard anfa",
		"secondary":      "Secondary road",
		"old_mill link":  "Old mill ramp",
	}
	for in, want := range cases {
		assert.Equal(t, want, HumanizeRoadName(in), in)
	}
}

func TestTurnAngle(t *testing.T) {
	origin := geo.Coordinate{}
	east := geo.Coordinate{Lon: 1}

	assert.InDelta(t, 90, turnAngle(origin, east, geo.Coordinate{Lat: 1, Lon: 1}), 1e-9)
	assert.InDelta(t, -90, turnAngle(origin, east, geo.Coordinate{Lat: -1, Lon: 1}), 1e-9)
	assert.InDelta(t, 0, turnAngle(origin, east, geo.Coordinate{Lon: 2}), 1e-9)

	// heading west then turning to south-west crosses the atan2 branch cut
	a := geo.Coordinate{Lat: 0, Lon: 2}
	b := geo.Coordinate{Lat: 0, Lon: 1}
	c := geo.Coordinate{Lat: -1, Lon: 0}
	assert.InDelta(t, 45, turnAngle(a, b, c), 1e-9)

	assert.Equal(t, turnLeft, maneuver(45))
	assert.Equal(t, turnRight, maneuver(-31))
	assert.Equal(t, continueAhead, maneuver(30))
}

func TestCompileSquare(t *testing.T) {
	g := squareGraph(t, 500)
	instructions := Compile([]int64{1, 2, 3, 4}, g, g)

	require.Len(t, instructions, 4)
	assert.Equal(t, DepartText, instructions[0].Text)
	assert.Zero(t, instructions[0].Distance)

	// A -> B heads east, B -> C heads north: a left turn
	assert.Equal(t, "Turn left on East road", instructions[1].Text)
	assert.Equal(t, geo.Coordinate{Lat: 0, Lon: 0.0009}, instructions[1].Point)
	assert.InDelta(t, 100, instructions[1].Distance, 1)

	// B -> C heads north, C -> D heads west: left again but on another road
	assert.Equal(t, "Turn left on South road", instructions[2].Text)

	last := instructions[len(instructions)-1]
	assert.Equal(t, ArriveText, last.Text)
	assert.Equal(t, geo.Coordinate{Lat: 0.0009, Lon: 0}, last.Point)
	assert.Zero(t, last.Distance)
}

func TestCompileMergesStraightRuns(t *testing.T) {
	g := NewGraph()
	for i := int64(0); i < 5; i++ {
		g.AddNode(i, 0, float64(i)*0.001)
	}
	for i := int64(0); i < 4; i++ {
		require.NoError(t, g.AddRoad(i, i+1, 111, "Avenue Hassan II"))
	}

	instructions := Compile([]int64{0, 1, 2, 3, 4}, g, g)
	require.Len(t, instructions, 3)
	merged := instructions[1]
	assert.Equal(t, "Continue straight on Avenue Hassan II", merged.Text)
	assert.InDelta(t, 0.003, merged.Point.Lon, 1e-12)
	assert.InDelta(t, 3*geo.Haversine(geo.Coordinate{}, geo.Coordinate{Lon: 0.001}), merged.Distance, 1e-6)
}

func TestCompileShortPaths(t *testing.T) {
	g := squareGraph(t, 150)

	assert.Nil(t, Compile(nil, g, g))

	single := Compile([]int64{2}, g, g)
	require.Len(t, single, 2)
	assert.Equal(t, DepartText, single[0].Text)
	assert.Equal(t, ArriveText, single[1].Text)

	pair := Compile([]int64{1, 4}, g, nil)
	require.Len(t, pair, 2)
}

func TestCompileUnknownRoadName(t *testing.T) {
	g := squareGraph(t, 500)
	instructions := Compile([]int64{1, 2, 3}, g, nil)
	require.Len(t, instructions, 3)
	assert.Equal(t, "Turn left on unnamed road", instructions[1].Text)
}
