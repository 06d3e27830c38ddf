package bom

import (
	"github.com/shopspring/decimal"
	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// ComputeCost annotates an exploded tree with costs in a single post-order
// pass. A product missing from unitCosts counts as zero and marks its node,
// and every ancestor, as CostIncomplete.
func ComputeCost(node *entities.CompositionNode, unitCosts entities.UnitCosts) *entities.CostedNode {
	unitCost, known := unitCosts[node.ProductID]
	if !known {
		unitCost = decimal.Zero
	}

	costed := &entities.CostedNode{
		ProductID:      node.ProductID,
		Quantity:       node.Quantity,
		Level:          node.Level,
		UnitCost:       unitCost,
		TotalCost:      unitCost.Mul(node.Quantity),
		CostIncomplete: !known,
		Children:       make([]*entities.CostedNode, 0, len(node.Children)),
	}

	for _, child := range node.Children {
		costedChild := ComputeCost(child, unitCosts)
		costed.TotalCost = costed.TotalCost.Add(costedChild.TotalCost)
		costed.CostIncomplete = costed.CostIncomplete || costedChild.CostIncomplete
		costed.Children = append(costed.Children, costedChild)
	}

	return costed
}

// TreeProductIDs returns the distinct products appearing in a tree
func TreeProductIDs(root *entities.CompositionNode) []entities.ProductID {
	var ids []entities.ProductID
	root.Walk(func(node *entities.CompositionNode) {
		ids = append(ids, node.ProductID)
	})
	return entities.ProductIDs(ids...)
}
