// Package graphstore reads and writes the road graph files loaded at startup.
//
// Graphs are stored as gob-encoded snapshots. Files ending in ".sz" are
// wrapped in snappy framing.
package graphstore

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/golang/snappy"

	"safe-route-server/routing"
)

const compressedExt = ".sz"

var ErrEmptySnapshot = errors.New("graph snapshot has no nodes")

// Node matches the stored gob format.
type Node struct {
	ID        int64   `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Edge struct {
	FromID     int64   `json:"from_id"`
	ToID       int64   `json:"to_id"`
	Distance   float64 `json:"distance"`
	TravelTime float64 `json:"travel_time"`
	Name       string  `json:"name"`
}

// Snapshot is the serialised graph: nodes by id and outgoing edges by
// source node.
type Snapshot struct {
	Nodes map[int64]Node   `json:"nodes"`
	Edges map[int64][]Edge `json:"edges"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Nodes: make(map[int64]Node),
		Edges: make(map[int64][]Edge),
	}
}

// Stats summarises a build or conversion.
type Stats struct {
	Nodes   int
	Edges   int
	Skipped int
}

func (s *Snapshot) AddEdge(e Edge) {
	s.Edges[e.FromID] = append(s.Edges[e.FromID], e)
}

func (s *Snapshot) EdgeCount() int {
	n := 0
	for _, edges := range s.Edges {
		n += len(edges)
	}
	return n
}

// Build turns the snapshot into a routing graph. Every stored edge becomes a
// two-way road. Edges that reference unknown nodes, loop on one node or have
// an invalid length are skipped and counted.
func (s *Snapshot) Build(logger *slog.Logger) (*routing.Graph, Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(s.Nodes) == 0 {
		return nil, Stats{}, ErrEmptySnapshot
	}

	g := routing.NewGraph()
	for id, n := range s.Nodes {
		g.AddNode(id, n.Latitude, n.Longitude)
	}

	// sorted so duplicate roads resolve the same way on every load
	sources := make([]int64, 0, len(s.Edges))
	for id := range s.Edges {
		sources = append(sources, id)
	}
	slices.Sort(sources)

	stats := Stats{Nodes: len(s.Nodes)}
	for _, from := range sources {
		for _, e := range s.Edges[from] {
			if err := g.AddRoad(e.FromID, e.ToID, e.Distance, e.Name); err != nil {
				stats.Skipped++
				logger.Debug("skipping edge", "from", e.FromID, "to", e.ToID, "error", err)
				continue
			}
			stats.Edges++
		}
	}
	if stats.Skipped > 0 {
		logger.Warn("skipped invalid graph edges", "skipped", stats.Skipped)
	}
	return g, stats, nil
}

// Decode reads a gob snapshot.
func Decode(r io.Reader) (*Snapshot, error) {
	snap := NewSnapshot()
	if err := gob.NewDecoder(r).Decode(snap); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return snap, nil
}

// Encode writes a gob snapshot.
func Encode(w io.Writer, snap *Snapshot) error {
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return nil
}

// ReadFile decodes the snapshot at path, unwrapping snappy framing for
// ".sz" files.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, compressedExt) {
		r = snappy.NewReader(f)
	}
	snap, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Load reads the graph file at path and builds the routing graph.
func Load(path string, logger *slog.Logger) (*routing.Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, stats, err := snap.Build(logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("loaded road graph",
		"path", path,
		"nodes", stats.Nodes,
		"roads", g.EdgeCount()/2,
		"skipped", stats.Skipped)
	return g, nil
}

// Save writes snap to path, creating parent directories. A ".sz" suffix
// selects snappy framing.
func Save(path string, snap *Snapshot) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph file %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if !strings.HasSuffix(path, compressedExt) {
		return Encode(f, snap)
	}
	sw := snappy.NewBufferedWriter(f)
	if err := Encode(sw, snap); err != nil {
		return err
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("flush compressed graph: %w", err)
	}
	return nil
}
