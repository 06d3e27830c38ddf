package repositories

import (
	"context"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// UnitCostRepository provides the cost of one unit of each product.
// Products without a known cost are simply absent from the returned map.
type UnitCostRepository interface {
	GetUnitCosts(ctx context.Context, productIDs []entities.ProductID) (entities.UnitCosts, error)
}
