package zonesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe-route-server/geo"
	"safe-route-server/metrics"
	"safe-route-server/risk"
)

const jsonZones = `[
  {"zoneId": "port", "name": "Port access", "risk": "élevé",
   "geometry": [{"lat": 0, "lon": 0}, {"lat": 0, "lon": 0.01}, {"lat": 0.01, "lon": 0.01}]},
  {"zoneId": "market", "risk_numeric": 0.55,
   "geometry": [{"lat": 0.02, "lon": 0}, {"lat": 0.02, "lon": 0.01}, {"lat": 0.03, "lon": 0.01}]},
  {"zoneId": "broken", "risk": "unknown", "geometry": [{"lat": 0, "lon": 0}]}
]`

const yamlZones = `
zones:
  - zoneId: tunnel
    risk: moyen
    tags: [height-limit]
    geometry:
      - {lat: 0, lon: 0}
      - {lat: 0, lon: 0.01}
      - {lat: 0.01, lon: 0.01}
      - {lat: 0.01, lon: 0}
`

func TestParseZonesJSONList(t *testing.T) {
	zones, err := ParseZones([]byte(jsonZones), false, nil)
	require.NoError(t, err)
	require.Len(t, zones, 2)

	assert.Equal(t, "port", zones[0].ID)
	assert.Equal(t, risk.High, zones[0].Category())
	assert.Equal(t, "Port access", zones[0].Name)
	assert.Equal(t, 0.55, zones[1].RiskValue)
	assert.Equal(t, risk.Medium, zones[1].Category())
}

func TestParseZonesWrapped(t *testing.T) {
	zones, err := ParseZones([]byte(`{"zones": `+jsonZones+`}`), false, nil)
	require.NoError(t, err)
	assert.Len(t, zones, 2)

	zones, err = ParseZones([]byte(yamlZones), true, nil)
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "tunnel", zones[0].ID)
	assert.Equal(t, risk.Medium, zones[0].Category())
	assert.Equal(t, []string{"height-limit"}, zones[0].Tags)
	assert.Equal(t, geo.Coordinate{Lat: 0.01, Lon: 0}, zones[0].Ring[3])
}

func TestParseZonesRejectsGarbage(t *testing.T) {
	_, err := ParseZones([]byte(`{"zones": 12}`), false, nil)
	assert.Error(t, err)
	_, err = ParseZones([]byte("zones: [unterminated"), true, nil)
	assert.Error(t, err)
}

func TestLoadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "zones.yml")
	require.NoError(t, os.WriteFile(yml, []byte(yamlZones), 0o644))

	zones, err := LoadFile(yml, nil)
	require.NoError(t, err)
	assert.Len(t, zones, 1)

	_, err = LoadFile(filepath.Join(dir, "missing.json"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreReplaceAndFail(t *testing.T) {
	reg := metrics.NewRegistry()
	s := NewStore(reg, nil)
	assert.Empty(t, s.Zones())
	assert.True(t, s.LoadedAt().IsZero())

	zones, err := ParseZones([]byte(jsonZones), false, nil)
	require.NoError(t, err)
	s.Replace("file:zones.json", zones)
	assert.Len(t, s.Zones(), 2)
	assert.Equal(t, "file:zones.json", s.Source())
	assert.False(t, s.LoadedAt().IsZero())

	s.Fail("file:zones.json", errors.New("disk gone"))
	assert.Len(t, s.Zones(), 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ZoneReloadsTotal.WithLabelValues("file:zones.json", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ZoneReloadsTotal.WithLabelValues("file:zones.json", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.ZonesLoaded))
}

type scriptedFetcher struct {
	mu      sync.Mutex
	results [][]risk.Zone
	errs    []error
	calls   int
}

func (f *scriptedFetcher) Fetch(context.Context) ([]risk.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], f.errs[i]
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPollKeepsZonesOnError(t *testing.T) {
	one := []risk.Zone{{ID: "a", RiskValue: 0.9}}
	f := &scriptedFetcher{
		results: [][]risk.Zone{one, nil},
		errs:    []error{nil, errors.New("connection reset")},
	}
	s := NewStore(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Poll(ctx, "postgres", f, s, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return f.Calls() >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, one, s.Zones())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Poll did not stop")
	}
}

func TestPollRecoversFromFirstError(t *testing.T) {
	one := []risk.Zone{{ID: "a", RiskValue: 0.9}}
	f := &scriptedFetcher{
		results: [][]risk.Zone{nil, one},
		errs:    []error{errors.New("no database"), nil},
	}
	reg := metrics.NewRegistry()
	s := NewStore(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Poll(ctx, "postgres", f, s, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return len(s.Zones()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "postgres", s.Source())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ZoneReloadsTotal.WithLabelValues("postgres", "error")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Poll did not stop")
	}
}

func TestPollOnceReturnsFetchError(t *testing.T) {
	f := &scriptedFetcher{results: [][]risk.Zone{nil}, errs: []error{errors.New("no database")}}
	err := Poll(context.Background(), "postgres", f, NewStore(nil, nil), 0)
	assert.EqualError(t, err, "no database")
}

func TestFileSourceFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(path, []byte(jsonZones), 0o644))

	s := NewStore(nil, nil)
	require.NoError(t, Poll(context.Background(), "file", FileSource{Path: path}, s, 0))
	assert.Len(t, s.Zones(), 2)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte("zones: []\n"), 0o644))

	s := NewStore(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, s, 10*time.Millisecond) }()

	// rewrite until the watcher is registered and picks a change up
	require.Eventually(t, func() bool {
		if len(s.Zones()) == 1 {
			return true
		}
		_ = os.WriteFile(path, []byte(yamlZones), 0o644)
		return false
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "tunnel", s.Zones()[0].ID)
	assert.Equal(t, "file:zones.yaml", s.Source())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "zones.json"), NewStore(nil, nil), 0)
	assert.Error(t, err)
}
