package entities

import "github.com/shopspring/decimal"

// ProductID represents an opaque product identifier. The engine references
// products by id only and never mutates product records.
type ProductID string

// Quantity represents a rational quantity of units
type Quantity = decimal.Decimal

// Cost represents a monetary amount for one or more units
type Cost = decimal.Decimal

// UnitCosts maps a product to the cost of one unit of it
type UnitCosts map[ProductID]Cost

// ProductIDs returns the distinct product ids of a slice of ids, in first-seen order
func ProductIDs(ids ...ProductID) []ProductID {
	seen := make(map[ProductID]bool, len(ids))
	out := make([]ProductID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
