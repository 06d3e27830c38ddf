package entities

// CompositionNode is one position in an exploded BOM. Quantity is the number
// of units required per one unit of the exploded root.
type CompositionNode struct {
	ProductID ProductID
	Quantity  Quantity
	Level     int
	Children  []*CompositionNode
}

// IsLeaf reports whether the node has no components as of the explosion time
func (n *CompositionNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// Walk visits the node and all descendants in pre-order
func (n *CompositionNode) Walk(visit func(node *CompositionNode)) {
	stack := []*CompositionNode{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(node)
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
}

// CostedNode is a CompositionNode annotated with costs
type CostedNode struct {
	ProductID ProductID
	Quantity  Quantity
	Level     int
	UnitCost  Cost
	// TotalCost is UnitCost × Quantity plus the TotalCost of every child
	TotalCost Cost
	// CostIncomplete is set when this node or a descendant has no known unit cost
	CostIncomplete bool
	Children       []*CostedNode
}
