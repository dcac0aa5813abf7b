package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe-route-server/geo"
	"safe-route-server/planner"
)

const nodeLink = `{
  "graph": {
    "nodes": [
      {"id": 1, "y": 33.5731, "x": -7.5898},
      {"id": 2, "y": 33.5741, "x": -7.5898},
      {"id": 3, "y": 33.5741, "x": -7.5878}
    ],
    "links": [
      {"source": 1, "target": 2, "length": 111.2, "name": "Boulevard Zerktouni"},
      {"source": 2, "target": 3, "length": 185.0, "highway": "secondary"},
      {"source": 3, "target": 9, "length": 50.0}
    ]
  }
}`

const zoneFile = `[
  {"zoneId": "market", "geometry": [{"lat": 33.5735, "lon": -7.5900}, {"lat": 33.5735, "lon": -7.5896}, {"lat": 33.5738, "lon": -7.5896}], "risk_numeric": 0.9},
  {"zoneId": "park", "geometry": [{"lat": 33.60, "lon": -7.60}, {"lat": 33.60, "lon": -7.59}, {"lat": 33.61, "lon": -7.59}], "risk": "faible"},
  {"zoneId": "stub", "geometry": [{"lat": 33.60, "lon": -7.60}], "risk": "medium"}
]`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGraphConvertAndStats(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "casablanca.json", nodeLink)

	out, err := execute(t, "graph", "convert", input)
	require.NoError(t, err)
	output := filepath.Join(dir, "casablanca.gob")
	assert.Contains(t, out, output)
	assert.Contains(t, out, "3 nodes, 3 edges")
	assert.FileExists(t, output)

	out, err = execute(t, "graph", "stats", output)
	require.NoError(t, err)
	assert.Contains(t, out, "3 nodes, 4 directed edges, 1 skipped")
}

func TestGraphConvertCompressed(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "roads.json", nodeLink)
	output := filepath.Join(dir, "out", "roads.gob.sz")

	_, err := execute(t, "graph", "convert", input, output)
	require.NoError(t, err)

	out, err := execute(t, "graph", "stats", output)
	require.NoError(t, err)
	assert.Contains(t, out, "3 nodes")
}

func TestGraphConvertMissingInput(t *testing.T) {
	_, err := execute(t, "graph", "convert", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestZonesValidate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "zones.json", zoneFile)

	out, err := execute(t, "zones", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 zones: 1 high, 1 medium, 1 low")
	assert.Contains(t, out, "1 zones have fewer than 3 vertices")
}

func TestZonesImportRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeFile(t, t.TempDir(), "zones.json", zoneFile)

	_, err := execute(t, "zones", "import", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRouteCommand(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "roads.json", nodeLink)
	graph := filepath.Join(dir, "roads.gob")
	_, err := execute(t, "graph", "convert", input, graph)
	require.NoError(t, err)
	zones := writeFile(t, dir, "zones.json", zoneFile)

	out, err := execute(t, "route", "--graph", graph, "--zones", zones,
		"--from", "33.5731,-7.5898", "--to", "33.5741, -7.5878", "--compact")
	require.NoError(t, err)

	var result planner.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Routes, 1)
	assert.Equal(t, 0, result.SafePathIndex)
	route := result.Routes[0]
	assert.Equal(t, geo.Coordinate{Lat: 33.5731, Lon: -7.5898}, route.Geometry[0])
	assert.Equal(t, geo.Coordinate{Lat: 33.5741, Lon: -7.5878}, route.Geometry[len(route.Geometry)-1])
	assert.InDelta(t, 296.2, route.DistanceMeters, 1e-6)
	assert.Positive(t, route.RiskScore)
}

func TestRouteCommandRejectsBadCoordinates(t *testing.T) {
	for _, args := range [][]string{
		{"route", "--from", "33.5", "--to", "33.5,-7.5"},
		{"route", "--from", "33.5,-7.5", "--to", "north,-7.5"},
		{"route", "--from", "133.5,-7.5", "--to", "33.5,-7.5"},
		{"route", "--to", "33.5,-7.5"},
	} {
		_, err := execute(t, args...)
		assert.Error(t, err, args)
	}
}

func TestParseLatLon(t *testing.T) {
	c, err := parseLatLon(" 33.5731 , -7.5898 ")
	require.NoError(t, err)
	assert.Equal(t, geo.Coordinate{Lat: 33.5731, Lon: -7.5898}, c)

	_, err = parseLatLon("33.5731")
	assert.Error(t, err)
	_, err = parseLatLon("33.5731,-190")
	assert.ErrorIs(t, err, planner.ErrInvalidCoordinate)
}

func TestDefaultGraphOutput(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "roads.gob"), defaultGraphOutput(filepath.Join("data", "roads.json")))
}
