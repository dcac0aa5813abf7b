package routing

import "context"

const (
	MaxAlternatives = 10
	PenaltyFactor   = 10.0
)

// ClampAlternatives bounds a requested alternative count to [1, MaxAlternatives].
// Zero or negative means the maximum.
func ClampAlternatives(k int) int {
	if k <= 0 || k > MaxAlternatives {
		return MaxAlternatives
	}
	return k
}

// FindAlternatives computes up to k paths from start to end. After each path
// is found every road on it has its weight multiplied by PenaltyFactor in
// both directions, which pushes the next search elsewhere. Penalties live in
// a scratch weight vector released when the call returns, so the graph is
// left exactly as it was and identical calls give identical results.
//
// The search stops early when no further path exists. Paths found before a
// cancellation are returned together with the context error.
func (g *Graph) FindAlternatives(ctx context.Context, start, end int64, k int) ([][]int64, error) {
	k = ClampAlternatives(k)

	w := g.acquireWeights()
	defer releaseWeights(w)

	var paths [][]int64
	for i := 0; i < k; i++ {
		path, err := g.ShortestPath(ctx, start, end, *w)
		if err != nil {
			return paths, err
		}
		if len(path) == 0 {
			break
		}
		paths = append(paths, path)
		if len(path) == 1 {
			break // start == end, nothing to penalize
		}
		for j := 0; j+1 < len(path); j++ {
			w.Penalize(g, path[j], path[j+1], PenaltyFactor)
		}
	}
	return paths, nil
}
