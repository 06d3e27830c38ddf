package services

import (
	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// CompositionGraph is a parent -> children adjacency map of composition edges
type CompositionGraph map[entities.ProductID][]entities.ProductID

// NewCompositionGraph builds an adjacency map from a set of edges. Duplicate
// parent/child pairs collapse into one adjacency entry.
func NewCompositionGraph(edges []*entities.CompositionEdge) CompositionGraph {
	graph := make(CompositionGraph)
	for _, edge := range edges {
		graph.AddEdge(edge.ParentProductID, edge.ChildProductID)
	}
	return graph
}

// AddEdge adds parent -> child unless it is already present
func (g CompositionGraph) AddEdge(parentID, childID entities.ProductID) {
	for _, existing := range g[parentID] {
		if existing == childID {
			return
		}
	}
	g[parentID] = append(g[parentID], childID)
}

// ReplaceChildren swaps the outgoing edges of a parent, as a version cutover does
func (g CompositionGraph) ReplaceChildren(parentID entities.ProductID, children []entities.ProductID) {
	g[parentID] = nil
	for _, childID := range children {
		g.AddEdge(parentID, childID)
	}
	if len(g[parentID]) == 0 {
		delete(g, parentID)
	}
}

// WouldCreateCycle reports whether adding parent -> child to graph would let a
// product contain itself, i.e. whether parent is reachable from child. When it
// would, the returned path runs from child to parent along existing edges.
//
// The search visits each product at most once, so it terminates even when the
// graph already contains a cycle.
func WouldCreateCycle(parentID, childID entities.ProductID, graph CompositionGraph) ([]entities.ProductID, bool) {
	if parentID == childID {
		return []entities.ProductID{childID}, true
	}

	cameFrom := map[entities.ProductID]entities.ProductID{}
	visited := map[entities.ProductID]bool{childID: true}
	stack := []entities.ProductID{childID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range graph[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			cameFrom[next] = current
			if next == parentID {
				return buildPath(cameFrom, childID, parentID), true
			}
			stack = append(stack, next)
		}
	}

	return nil, false
}

// CheckEdge returns a *entities.CyclicCompositionError when parent -> child would close a cycle
func CheckEdge(parentID, childID entities.ProductID, graph CompositionGraph) error {
	path, cyclic := WouldCreateCycle(parentID, childID, graph)
	if !cyclic {
		return nil
	}
	return &entities.CyclicCompositionError{
		ParentProductID: parentID,
		ChildProductID:  childID,
		Path:            path,
	}
}

func buildPath(cameFrom map[entities.ProductID]entities.ProductID, from, to entities.ProductID) []entities.ProductID {
	var reversed []entities.ProductID
	for node := to; node != from; node = cameFrom[node] {
		reversed = append(reversed, node)
	}
	reversed = append(reversed, from)

	path := make([]entities.ProductID, len(reversed))
	for i, id := range reversed {
		path[len(reversed)-1-i] = id
	}
	return path
}
