package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInRingSquare(t *testing.T) {
	square := Ring([]Coordinate{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 10},
		{Lat: 10, Lon: 10},
		{Lat: 10, Lon: 0},
	})

	assert.True(t, InRing(Coordinate{Lat: 5, Lon: 5}, square))
	assert.False(t, InRing(Coordinate{Lat: 20, Lon: 20}, square))
	assert.False(t, InRing(Coordinate{Lat: 5, Lon: -1}, square))
}

func TestInRingClosedAndDegenerate(t *testing.T) {
	closed := Ring([]Coordinate{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1},
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 0},
		{Lat: 0, Lon: 0},
	})
	assert.True(t, InRing(Coordinate{Lat: 0.5, Lon: 0.5}, closed))

	line := Ring([]Coordinate{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}})
	assert.False(t, InRing(Coordinate{Lat: 0.5, Lon: 0.5}, line))
	assert.False(t, InRing(Coordinate{}, orb.Ring{}))
}

func TestDistanceToSegment(t *testing.T) {
	a := Coordinate{Lat: 0, Lon: 0}
	b := Coordinate{Lat: 0, Lon: 0.01}

	onSegment := Coordinate{Lat: 0, Lon: 0.005}
	assert.InDelta(t, 0, DistanceToSegment(onSegment, a, b), 1e-6)

	offset := Coordinate{Lat: 0.001, Lon: 0.005}
	want := Haversine(offset, onSegment)
	assert.InDelta(t, want, DistanceToSegment(offset, a, b), 0.5)

	// Beyond the end the projection clamps to b.
	beyond := Coordinate{Lat: 0, Lon: 0.02}
	assert.InDelta(t, Haversine(beyond, b), DistanceToSegment(beyond, a, b), 0.5)
}

func TestDistanceToPolyline(t *testing.T) {
	line := []Coordinate{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}, {Lat: 0.01, Lon: 0.01}}

	assert.InDelta(t, 0, DistanceToPolyline(Coordinate{Lat: 0.005, Lon: 0.01}, line), 1e-6)
	assert.Greater(t, DistanceToPolyline(Coordinate{Lat: 0.01, Lon: 0}, line), 1000.0)
	assert.True(t, math.IsInf(DistanceToPolyline(Coordinate{}, nil), 1))

	single := []Coordinate{{Lat: 0, Lon: 0}}
	assert.InDelta(t, Haversine(Coordinate{Lat: 0.001}, single[0]), DistanceToPolyline(Coordinate{Lat: 0.001}, single), 1e-9)
}

func TestHaversine(t *testing.T) {
	// One degree of latitude on the orb sphere.
	d := Haversine(Coordinate{Lat: 0, Lon: 0}, Coordinate{Lat: 1, Lon: 0})
	assert.InDelta(t, orb.EarthRadius*math.Pi/180, d, 1e-6)
	assert.Zero(t, Haversine(Coordinate{Lat: 45, Lon: 7}, Coordinate{Lat: 45, Lon: 7}))
}

func TestInterpolate(t *testing.T) {
	points := Interpolate(Coordinate{Lat: 0, Lon: 0}, Coordinate{Lat: 1, Lon: 2}, 4)
	require.Len(t, points, 5)
	assert.Equal(t, Coordinate{Lat: 0, Lon: 0}, points[0])
	assert.Equal(t, Coordinate{Lat: 1, Lon: 2}, points[4])
	assert.InDelta(t, 0.5, points[2].Lat, 1e-12)
	assert.InDelta(t, 1.0, points[2].Lon, 1e-12)
}

func TestCentroid(t *testing.T) {
	c, ok := Centroid([]Coordinate{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 2}, {Lat: 2, Lon: 2}, {Lat: 2, Lon: 0}})
	require.True(t, ok)
	assert.Equal(t, Coordinate{Lat: 1, Lon: 1}, c)

	_, ok = Centroid(nil)
	assert.False(t, ok)
}

func TestValid(t *testing.T) {
	assert.True(t, Coordinate{Lat: 33.5, Lon: -7.6}.Valid())
	assert.False(t, Coordinate{Lat: 91, Lon: 0}.Valid())
	assert.False(t, Coordinate{Lat: 0, Lon: -181}.Valid())
	assert.False(t, Coordinate{Lat: math.NaN(), Lon: 0}.Valid())
	assert.False(t, Coordinate{Lat: 0, Lon: math.Inf(1)}.Valid())
}
