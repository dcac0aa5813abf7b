package routing

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"

	"safe-route-server/geo"
)

// cancellation is checked once every ctxCheckInterval expansions
const ctxCheckInterval = 1024

type PriorityQueueItem struct {
	NodeID   int64
	Priority float64
	GScore   float64
	Index    int
}

type PriorityQueue []*PriorityQueueItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].Priority < pq[j].Priority
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*PriorityQueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}

func (g *Graph) heuristic(from *Node, goal *Node) float64 {
	return geo.Haversine(from.Coordinate(), goal.Coordinate()) * g.heuristicScale
}

// FindPath returns the cheapest node sequence from start to end under the
// graph's loaded weights, or nil when the nodes are unknown or disconnected.
func (g *Graph) FindPath(start, end int64) []int64 {
	path, err := g.ShortestPath(context.Background(), start, end, nil)
	if err != nil {
		slog.Debug("path search failed", "start", start, "end", end, "error", err)
		return nil
	}
	return path
}

// ShortestPath runs A* from start to end using w as edge weights; a nil w
// means the graph's own weights. It returns (nil, nil) when no path exists
// and ErrUnknownNode when either endpoint is missing. A node whose g-score
// improves after expansion is reopened, so the result stays optimal even
// when the heuristic is not consistent.
func (g *Graph) ShortestPath(ctx context.Context, start, end int64, w Weights) ([]int64, error) {
	startNode, ok := g.Nodes[start]
	if !ok {
		return nil, fmt.Errorf("start %d: %w", start, ErrUnknownNode)
	}
	goal, ok := g.Nodes[end]
	if !ok {
		return nil, fmt.Errorf("end %d: %w", end, ErrUnknownNode)
	}
	if start == end {
		return []int64{start}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	openSet := &PriorityQueue{}
	heap.Init(openSet)

	gScore := map[int64]float64{start: 0}
	previous := make(map[int64]int64)

	heap.Push(openSet, &PriorityQueueItem{
		NodeID:   start,
		Priority: g.heuristic(startNode, goal),
	})

	iterations := 0
	for openSet.Len() > 0 {
		iterations++
		if iterations%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		current := heap.Pop(openSet).(*PriorityQueueItem)
		if current.GScore > gScore[current.NodeID] {
			continue // stale entry, a cheaper one was pushed later
		}
		if current.NodeID == end {
			return reconstructPath(previous, start, end), nil
		}

		for _, idx := range g.adjacency[current.NodeID] {
			edge := &g.edges[idx]
			cost := edge.Distance
			if idx < len(w) {
				cost = w[idx]
			}
			tentative := current.GScore + cost
			if existing, seen := gScore[edge.ToID]; seen && tentative >= existing {
				continue
			}
			neighbor, ok := g.Nodes[edge.ToID]
			if !ok {
				continue
			}
			gScore[edge.ToID] = tentative
			previous[edge.ToID] = current.NodeID
			heap.Push(openSet, &PriorityQueueItem{
				NodeID:   edge.ToID,
				Priority: tentative + g.heuristic(neighbor, goal),
				GScore:   tentative,
			})
		}
	}
	return nil, nil
}

func reconstructPath(previous map[int64]int64, start, end int64) []int64 {
	path := []int64{end}
	for current := end; current != start; {
		current = previous[current]
		path = append(path, current)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
