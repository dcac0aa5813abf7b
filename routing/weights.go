package routing

import "sync"

// Weights is a per-search view of edge weights, indexed like the graph's
// edge slice. Penalties are applied here so the shared graph stays untouched.
type Weights []float64

var weightsPool = sync.Pool{
	New: func() any { return new(Weights) },
}

// Weights returns a fresh copy of the current edge weights.
func (g *Graph) Weights() Weights {
	w := make(Weights, len(g.edges))
	for i := range g.edges {
		w[i] = g.edges[i].Distance
	}
	return w
}

func (g *Graph) acquireWeights() *Weights {
	w := weightsPool.Get().(*Weights)
	if cap(*w) < len(g.edges) {
		*w = make(Weights, len(g.edges))
	}
	*w = (*w)[:len(g.edges)]
	for i := range g.edges {
		(*w)[i] = g.edges[i].Distance
	}
	return w
}

func releaseWeights(w *Weights) {
	weightsPool.Put(w)
}

// Penalize multiplies the weight of both directions of the road from -> to.
func (w Weights) Penalize(g *Graph, from, to int64, factor float64) {
	if idx, ok := g.lookup[[2]int64{from, to}]; ok && idx < len(w) {
		w[idx] *= factor
	}
	if idx, ok := g.lookup[[2]int64{to, from}]; ok && idx < len(w) {
		w[idx] *= factor
	}
}

// Cost returns the weight of the directed edge from -> to.
func (w Weights) Cost(g *Graph, from, to int64) (float64, bool) {
	idx, ok := g.lookup[[2]int64{from, to}]
	if !ok {
		return 0, false
	}
	if idx < len(w) {
		return w[idx], true
	}
	return g.edges[idx].Distance, true
}

// PathCost sums the weights along a path. ok is false when a hop has no edge.
func (w Weights) PathCost(g *Graph, path []int64) (float64, bool) {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		c, ok := w.Cost(g, path[i], path[i+1])
		if !ok {
			return 0, false
		}
		total += c
	}
	return total, true
}
