package routing

import (
	"errors"
	"fmt"
	"math"

	"safe-route-server/geo"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrInvalidRoad = errors.New("invalid road")
	ErrEmptyGraph  = errors.New("graph has no nodes")
)

// Node represents an intersection of the road network.
type Node struct {
	ID        int64   // OSM or generated identifier
	Latitude  float64 // degrees
	Longitude float64 // degrees
}

func (n *Node) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: n.Latitude, Lon: n.Longitude}
}

// Edge represents one direction of a road segment.
type Edge struct {
	FromID           int64
	ToID             int64
	Distance         float64 // weight in meters used by the search
	OriginalDistance float64 // weight as loaded
	Name             string
}

// Graph is the in-memory road network. It is built once at startup and only
// read afterwards; searches that need different weights carry their own
// Weights vector instead of touching Distance.
type Graph struct {
	Nodes map[int64]*Node

	edges     []Edge
	adjacency map[int64][]int
	lookup    map[[2]int64]int

	// smallest ratio between an edge weight and the straight-line distance of
	// its endpoints. The A* heuristic is scaled by it so it never overestimates.
	heuristicScale float64
}

func NewGraph() *Graph {
	return &Graph{
		Nodes:          make(map[int64]*Node),
		adjacency:      make(map[int64][]int),
		lookup:         make(map[[2]int64]int),
		heuristicScale: 1,
	}
}

// AddNode inserts or replaces a node. Nodes are expected to be added before
// the roads that reference them.
func (g *Graph) AddNode(id int64, lat, lon float64) {
	if n, ok := g.Nodes[id]; ok {
		n.Latitude, n.Longitude = lat, lon
		return
	}
	g.Nodes[id] = &Node{ID: id, Latitude: lat, Longitude: lon}
}

// AddRoad adds a bidirectional road between two known nodes. Adding a road
// that already exists keeps the shorter distance, so repeated loads of the
// same data are idempotent.
func (g *Graph) AddRoad(from, to int64, distance float64, name string) error {
	a, ok := g.Nodes[from]
	if !ok {
		return fmt.Errorf("road %d-%d: %w %d", from, to, ErrUnknownNode, from)
	}
	b, ok := g.Nodes[to]
	if !ok {
		return fmt.Errorf("road %d-%d: %w %d", from, to, ErrUnknownNode, to)
	}
	if from == to || distance < 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
		return fmt.Errorf("road %d-%d with distance %v: %w", from, to, distance, ErrInvalidRoad)
	}

	if chord := geo.Haversine(a.Coordinate(), b.Coordinate()); chord > 0 {
		g.heuristicScale = math.Min(g.heuristicScale, distance/chord)
	}

	if idx, ok := g.lookup[[2]int64{from, to}]; ok {
		if distance < g.edges[idx].OriginalDistance {
			g.setDistance(idx, distance)
			g.setDistance(g.lookup[[2]int64{to, from}], distance)
		}
		if name != "" {
			g.nameRoad(idx, name)
		}
		return nil
	}

	g.appendEdge(from, to, distance, name)
	g.appendEdge(to, from, distance, name)
	return nil
}

func (g *Graph) appendEdge(from, to int64, distance float64, name string) {
	idx := len(g.edges)
	g.edges = append(g.edges, Edge{
		FromID:           from,
		ToID:             to,
		Distance:         distance,
		OriginalDistance: distance,
		Name:             name,
	})
	g.adjacency[from] = append(g.adjacency[from], idx)
	g.lookup[[2]int64{from, to}] = idx
}

func (g *Graph) setDistance(idx int, distance float64) {
	g.edges[idx].Distance = distance
	g.edges[idx].OriginalDistance = distance
}

func (g *Graph) nameRoad(idx int, name string) {
	g.edges[idx].Name = name
	e := g.edges[idx]
	g.edges[g.lookup[[2]int64{e.ToID, e.FromID}]].Name = name
}

// Edge returns the directed edge from -> to.
func (g *Graph) Edge(from, to int64) (Edge, bool) {
	idx, ok := g.lookup[[2]int64{from, to}]
	if !ok {
		return Edge{}, false
	}
	return g.edges[idx], true
}

// RoadName returns the name stored on the edge between two nodes. An empty
// name on an existing edge is reported as found.
func (g *Graph) RoadName(from, to int64) (string, bool) {
	e, ok := g.Edge(from, to)
	if !ok {
		return "", false
	}
	return e.Name, true
}

// Node returns the node with the given id.
func (g *Graph) Node(id int64) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Neighbors returns the outgoing edges of a node.
func (g *Graph) Neighbors(id int64) []Edge {
	idxs := g.adjacency[id]
	out := make([]Edge, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, g.edges[idx])
	}
	return out
}

// Roads returns every road once, in insertion order, with its loaded distance.
func (g *Graph) Roads() []Edge {
	out := make([]Edge, 0, len(g.edges)/2)
	for i := 0; i < len(g.edges); i += 2 {
		out = append(out, g.edges[i])
	}
	return out
}

func (g *Graph) NodeCount() int { return len(g.Nodes) }

// EdgeCount counts directed edges, two per road.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NearestNode returns the node closest to c and its distance in meters. Ties
// go to the smaller id so the answer does not depend on map order.
func (g *Graph) NearestNode(c geo.Coordinate) (int64, float64, error) {
	if len(g.Nodes) == 0 {
		return 0, 0, ErrEmptyGraph
	}
	var nearest int64
	minDistance := math.Inf(1)
	for id, node := range g.Nodes {
		d := geo.Haversine(c, node.Coordinate())
		if d < minDistance || (d == minDistance && id < nearest) {
			minDistance = d
			nearest = id
		}
	}
	return nearest, minDistance, nil
}

// PathDistance sums the loaded distances along a path. Missing edges count as zero.
func (g *Graph) PathDistance(path []int64) float64 {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		if e, ok := g.Edge(path[i], path[i+1]); ok {
			total += e.OriginalDistance
		}
	}
	return total
}

// PathCoordinates maps a path to node coordinates, skipping unknown ids.
func (g *Graph) PathCoordinates(path []int64) []geo.Coordinate {
	out := make([]geo.Coordinate, 0, len(path))
	for _, id := range path {
		if n, ok := g.Nodes[id]; ok {
			out = append(out, n.Coordinate())
		}
	}
	return out
}
