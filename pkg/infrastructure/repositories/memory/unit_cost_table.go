package memory

import (
	"context"
	"sync"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
)

// UnitCostTable is a fixed table of unit costs, typically loaded from CSV
type UnitCostTable struct {
	mu    sync.RWMutex
	costs entities.UnitCosts
}

// NewUnitCostTable creates a table seeded with the given costs
func NewUnitCostTable(costs entities.UnitCosts) *UnitCostTable {
	table := &UnitCostTable{costs: make(entities.UnitCosts, len(costs))}
	for id, cost := range costs {
		table.costs[id] = cost
	}
	return table
}

var _ repositories.UnitCostRepository = (*UnitCostTable)(nil)

// SetUnitCost records or replaces the cost of one unit of a product
func (t *UnitCostTable) SetUnitCost(productID entities.ProductID, cost entities.Cost) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.costs[productID] = cost
}

// GetUnitCosts returns the known costs of the requested products
func (t *UnitCostTable) GetUnitCosts(ctx context.Context, productIDs []entities.ProductID) (entities.UnitCosts, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(entities.UnitCosts, len(productIDs))
	for _, id := range productIDs {
		if cost, ok := t.costs[id]; ok {
			result[id] = cost
		}
	}
	return result, nil
}

// Len returns the number of products with a known cost
func (t *UnitCostTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.costs)
}
