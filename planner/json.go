package planner

import (
	"encoding/json"
	"errors"

	"safe-route-server/geo"
)

// LatLonPairs renders a geometry as [[lat, lon], ...], the shape map clients
// consume.
func LatLonPairs(geometry []geo.Coordinate) [][2]float64 {
	out := make([][2]float64, len(geometry))
	for i, c := range geometry {
		out[i] = [2]float64{c.Lat, c.Lon}
	}
	return out
}

// FromLatLonPairs is the inverse of LatLonPairs. Pairs must have two values.
func FromLatLonPairs(pairs [][]float64) ([]geo.Coordinate, bool) {
	out := make([]geo.Coordinate, len(pairs))
	for i, p := range pairs {
		if len(p) < 2 {
			return nil, false
		}
		out[i] = geo.Coordinate{Lat: p[0], Lon: p[1]}
	}
	return out, true
}

func (r Route) MarshalJSON() ([]byte, error) {
	type plain Route
	return json.Marshal(struct {
		plain
		Geometry [][2]float64 `json:"geometry"`
	}{plain(r), LatLonPairs(r.Geometry)})
}

func (r *Route) UnmarshalJSON(data []byte) error {
	type plain Route
	aux := struct {
		*plain
		Geometry [][]float64 `json:"geometry"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	geometry, ok := FromLatLonPairs(aux.Geometry)
	if !ok {
		return errors.New("route geometry must be a list of [lat, lon] pairs")
	}
	r.Geometry = geometry
	return nil
}
