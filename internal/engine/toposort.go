package engine

import "fmt"

// TopoSort produces a deterministic linear order over ids using Kahn's
// algorithm. Ties are broken by position in the input id list, so the result
// is stable for a fixed input. Returns ErrCycle (wrapped) when the edge set
// contains a cycle.
func TopoSort(ids []string, edges []Edge) ([]string, error) {
	indegree := make(map[string]int, len(ids))
	adjacent := make(map[string][]string, len(ids))
	for _, id := range ids {
		indegree[id] = 0
	}
	for _, e := range edges {
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
		indegree[e.Target]++
	}

	// Seed with zero-indegree nodes; each step removes the queued node with
	// the smallest input position, so ties always break deterministically.
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}
	var queue []string
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		// Pick the queued node with the smallest input position.
		best := 0
		for i := 1; i < len(queue); i++ {
			if position[queue[i]] < position[queue[best]] {
				best = i
			}
		}
		id := queue[best]
		queue = append(queue[:best], queue[best+1:]...)
		order = append(order, id)

		for _, next := range adjacent[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(ids) {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable from a zero-indegree seed", ErrCycle, len(ids)-len(order), len(ids))
	}
	return order, nil
}
