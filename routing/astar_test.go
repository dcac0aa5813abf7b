package routing

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squareGraph builds A(0,0) B(0,0.0009) C(0.0009,0.0009) D(0.0009,0) with
// roads A-B, B-C, C-D of 100 m each and a direct A-D road.
func squareGraph(t *testing.T, direct float64) *Graph {
	t.Helper()
	g := NewGraph()
	g.AddNode(1, 0, 0)
	g.AddNode(2, 0, 0.0009)
	g.AddNode(3, 0.0009, 0.0009)
	g.AddNode(4, 0.0009, 0)
	require.NoError(t, g.AddRoad(1, 2, 100, "north_road"))
	require.NoError(t, g.AddRoad(2, 3, 100, "east_road"))
	require.NoError(t, g.AddRoad(3, 4, 100, "south_road"))
	require.NoError(t, g.AddRoad(1, 4, direct, "direct"))
	return g
}

func TestFindPathSquare(t *testing.T) {
	cheapDirect := squareGraph(t, 150)
	assert.Equal(t, []int64{1, 4}, cheapDirect.FindPath(1, 4))

	expensiveDirect := squareGraph(t, 500)
	assert.Equal(t, []int64{1, 2, 3, 4}, expensiveDirect.FindPath(1, 4))
}

func TestFindPathUnknownAndDisconnected(t *testing.T) {
	g := squareGraph(t, 150)
	g.AddNode(99, 1, 1)

	assert.Nil(t, g.FindPath(1, 99))
	assert.Nil(t, g.FindPath(1, 1234))

	_, err := g.ShortestPath(context.Background(), 1234, 1, nil)
	assert.True(t, errors.Is(err, ErrUnknownNode))

	path, err := g.ShortestPath(context.Background(), 1, 99, nil)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFindPathSameNode(t *testing.T) {
	g := squareGraph(t, 150)
	assert.Equal(t, []int64{3}, g.FindPath(3, 3))
}

func TestShortestPathUsesWeights(t *testing.T) {
	g := squareGraph(t, 150)
	w := g.Weights()
	w.Penalize(g, 1, 4, 10)

	path, err := g.ShortestPath(context.Background(), 1, 4, w)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, path)

	// the graph itself is untouched
	e, ok := g.Edge(4, 1)
	require.True(t, ok)
	assert.Equal(t, 150.0, e.Distance)
}

func TestShortestPathCancelled(t *testing.T) {
	g := gridGraph(60, 60)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.ShortestPath(ctx, 0, 60*60-1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// gridGraph lays out rows x cols nodes 0.001 degrees apart with 4-neighbour roads.
func gridGraph(rows, cols int) *Graph {
	g := NewGraph()
	id := func(r, c int) int64 { return int64(r*cols + c) }
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g.AddNode(id(r, c), float64(r)*0.001, float64(c)*0.001)
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c+1 < cols {
				_ = g.AddRoad(id(r, c), id(r, c+1), 120, "")
			}
			if r+1 < rows {
				_ = g.AddRoad(id(r, c), id(r+1, c), 120, "")
			}
		}
	}
	return g
}

// randomGraph places n nodes in a small box and connects random pairs with
// arbitrary positive weights, some shorter than the straight line.
func randomGraph(seed int64, n int) *Graph {
	rng := rand.New(rand.NewSource(seed))
	g := NewGraph()
	for i := 0; i < n; i++ {
		g.AddNode(int64(i), rng.Float64()*0.01, rng.Float64()*0.01)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < 0.45 {
				_ = g.AddRoad(int64(i), int64(j), 1+rng.Float64()*2000, "")
			}
		}
	}
	return g
}

// bruteForceCost enumerates every simple path and returns the cheapest cost.
func bruteForceCost(g *Graph, start, end int64) float64 {
	best := math.Inf(1)
	visited := map[int64]bool{start: true}
	var walk func(node int64, cost float64)
	walk = func(node int64, cost float64) {
		if cost >= best {
			return
		}
		if node == end {
			best = cost
			return
		}
		for _, e := range g.Neighbors(node) {
			if visited[e.ToID] {
				continue
			}
			visited[e.ToID] = true
			walk(e.ToID, cost+e.Distance)
			visited[e.ToID] = false
		}
	}
	walk(start, 0)
	return best
}

func TestShortestPathOptimality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("A* cost equals the exhaustive minimum", prop.ForAll(
		func(seed int64, n int) bool {
			g := randomGraph(seed, n)
			path, err := g.ShortestPath(context.Background(), 0, int64(n-1), nil)
			if err != nil {
				return false
			}
			want := bruteForceCost(g, 0, int64(n-1))
			if math.IsInf(want, 1) {
				return len(path) == 0
			}
			got, ok := Weights(nil).PathCost(g, path)
			return ok && path[0] == 0 && path[len(path)-1] == int64(n-1) && math.Abs(got-want) < 1e-6
		},
		gen.Int64(),
		gen.IntRange(2, 8),
	))

	properties.TestingRun(t)
}
