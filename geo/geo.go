package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Point converts the coordinate to an orb point (x = lon, y = lat).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// FromPoint converts an orb point back to a coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lon: p.Lon()}
}

// Valid reports whether the coordinate is finite and inside the lat/lon range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Haversine returns the great-circle distance between two coordinates in meters.
func Haversine(a, b Coordinate) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point())
}

// Interpolate returns n+1 evenly spaced points from a to b, both ends included.
func Interpolate(a, b Coordinate, n int) []Coordinate {
	if n < 1 {
		n = 1
	}
	points := make([]Coordinate, 0, n+1)
	for i := 0; i <= n; i++ {
		ratio := float64(i) / float64(n)
		points = append(points, Coordinate{
			Lat: a.Lat + (b.Lat-a.Lat)*ratio,
			Lon: a.Lon + (b.Lon-a.Lon)*ratio,
		})
	}
	return points
}

// Centroid is the arithmetic mean of the ring vertices. It returns false for an empty ring.
func Centroid(ring []Coordinate) (Coordinate, bool) {
	if len(ring) == 0 {
		return Coordinate{}, false
	}
	var lat, lon float64
	for _, p := range ring {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(ring))
	return Coordinate{Lat: lat / n, Lon: lon / n}, true
}

// Ring converts a coordinate list to an orb ring.
func Ring(points []Coordinate) orb.Ring {
	ring := make(orb.Ring, len(points))
	for i, p := range points {
		ring[i] = p.Point()
	}
	return ring
}

// InRing runs a ray-casting point-in-polygon test. Open and closed rings are both accepted.
func InRing(p Coordinate, ring orb.Ring) bool {
	if len(ring) < 3 {
		return false
	}
	// RingContains tests the closing edge itself.
	return planar.RingContains(ring, p.Point())
}

// DistanceToSegment returns the distance in meters from p to the segment a-b.
// The projection parameter is clamped to [0,1], so points beyond an endpoint
// measure to that endpoint. Coordinates are projected onto a local
// equirectangular plane centred on p, which is accurate at route scale.
func DistanceToSegment(p, a, b Coordinate) float64 {
	origin := p
	pa := project(a, origin)
	pb := project(b, origin)
	return planar.DistanceFromSegment(pa, pb, orb.Point{0, 0})
}

// DistanceToPolyline returns the minimum distance in meters from p to any
// segment of line. A single-point line measures to that point; an empty line
// reports +Inf.
func DistanceToPolyline(p Coordinate, line []Coordinate) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return Haversine(p, line[0])
	}
	best := math.Inf(1)
	for i := 0; i < len(line)-1; i++ {
		if d := DistanceToSegment(p, line[i], line[i+1]); d < best {
			best = d
		}
	}
	return best
}

func project(c, origin Coordinate) orb.Point {
	const rad = math.Pi / 180
	x := (c.Lon - origin.Lon) * rad * math.Cos(origin.Lat*rad) * orb.EarthRadius
	y := (c.Lat - origin.Lat) * rad * orb.EarthRadius
	return orb.Point{x, y}
}
