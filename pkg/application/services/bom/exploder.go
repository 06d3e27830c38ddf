package bom

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// DefaultMaxDepth bounds explosions when no limit is configured
const DefaultMaxDepth = 50

// EdgeResolver resolves the edges of a parent that are valid at an instant
type EdgeResolver interface {
	EdgesAt(ctx context.Context, parentID entities.ProductID, at time.Time) ([]*entities.CompositionEdge, error)
}

// TreeExploder expands a root product into its full multi-level composition tree
type TreeExploder struct {
	resolver EdgeResolver
	maxDepth int
}

// NewTreeExploder creates an exploder. A non-positive maxDepth uses DefaultMaxDepth.
func NewTreeExploder(resolver EdgeResolver, maxDepth int) *TreeExploder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &TreeExploder{resolver: resolver, maxDepth: maxDepth}
}

// MaxDepth returns the deepest level below the root the exploder will expand
func (x *TreeExploder) MaxDepth() int {
	return x.maxDepth
}

type explodeFrame struct {
	node *entities.CompositionNode
	path []entities.ProductID
}

// Explode builds the composition tree of root as of the given instant.
//
// Each node's Quantity is the product of QuantityPerParent along its path, so
// a component reachable through two parents (a diamond) appears twice with two
// independent quantities. Nodes are never shared between paths; cost rollup
// depends on that.
func (x *TreeExploder) Explode(ctx context.Context, rootID entities.ProductID, asOf time.Time) (*entities.CompositionNode, error) {
	root := &entities.CompositionNode{
		ProductID: rootID,
		Quantity:  decimal.NewFromInt(1),
	}

	// Edge sets are cached per product for the duration of one explosion.
	edgeSets := make(map[entities.ProductID][]*entities.CompositionEdge)
	stack := []explodeFrame{{node: root, path: []entities.ProductID{rootID}}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		edges, err := x.edgesFor(ctx, edgeSets, frame.node.ProductID, asOf)
		if err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			continue
		}

		if frame.node.Level >= x.maxDepth {
			return nil, &entities.MaxDepthExceededError{
				RootProductID: rootID,
				MaxDepth:      x.maxDepth,
				Path:          extendPath(frame.path, edges[0].ChildProductID),
			}
		}

		frame.node.Children = make([]*entities.CompositionNode, 0, len(edges))
		for _, edge := range edges {
			childPath := extendPath(frame.path, edge.ChildProductID)
			if onPath(frame.path, edge.ChildProductID) {
				return nil, &entities.CyclicTraversalError{RootProductID: rootID, Path: childPath}
			}

			child := &entities.CompositionNode{
				ProductID: edge.ChildProductID,
				Quantity:  frame.node.Quantity.Mul(edge.QuantityPerParent),
				Level:     frame.node.Level + 1,
			}
			frame.node.Children = append(frame.node.Children, child)
			stack = append(stack, explodeFrame{node: child, path: childPath})
		}
	}

	return root, nil
}

func (x *TreeExploder) edgesFor(
	ctx context.Context,
	cache map[entities.ProductID][]*entities.CompositionEdge,
	productID entities.ProductID,
	asOf time.Time,
) ([]*entities.CompositionEdge, error) {
	if edges, ok := cache[productID]; ok {
		return edges, nil
	}

	edges, err := x.resolver.EdgesAt(ctx, productID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve edges of %s: %w", productID, err)
	}

	sorted := make([]*entities.CompositionEdge, 0, len(edges))
	for _, edge := range edges {
		if edge.Active {
			sorted = append(sorted, edge)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ChildProductID != sorted[j].ChildProductID {
			return sorted[i].ChildProductID < sorted[j].ChildProductID
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	cache[productID] = sorted
	return sorted, nil
}

func extendPath(path []entities.ProductID, next entities.ProductID) []entities.ProductID {
	out := make([]entities.ProductID, len(path), len(path)+1)
	copy(out, path)
	return append(out, next)
}

func onPath(path []entities.ProductID, id entities.ProductID) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
