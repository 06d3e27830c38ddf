package testing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/memory"
)

// FixtureEpoch is when the seeded version 1 of every fixture BOM takes effect
var FixtureEpoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// Line is a shorthand composition line for fixtures
type Line struct {
	Child  entities.ProductID
	QtyPer string
}

// Qty parses a decimal literal, panicking on bad input
func Qty(s string) entities.Quantity {
	return decimal.RequireFromString(s)
}

// SeedGeneration writes an open generation with the given lines straight into
// the store, bypassing the version ledger. It panics if the parent already has
// an open generation.
func SeedGeneration(store repositories.CompositionStore, parent entities.ProductID, version int, validFrom time.Time, lines ...Line) []*entities.CompositionEdge {
	edges := make([]*entities.CompositionEdge, 0, len(lines))
	for _, line := range lines {
		edges = append(edges, &entities.CompositionEdge{
			ID:                uuid.New(),
			ParentProductID:   parent,
			ChildProductID:    line.Child,
			QuantityPerParent: Qty(line.QtyPer),
			Version:           version,
			ValidFrom:         validFrom,
			Active:            true,
		})
	}

	ctx := context.Background()
	err := store.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		if err := tx.InsertGeneration(ctx, &entities.Generation{
			ParentProductID: parent,
			Version:         version,
			ValidFrom:       validFrom,
		}); err != nil {
			return err
		}
		return tx.InsertEdges(ctx, edges)
	})
	if err != nil {
		panic(err)
	}
	return edges
}

// BuildSimpleScenario builds A -> 2x B, B -> 3x C with unit costs A=0, B=10, C=2.
// The exploded cost of A is 32.
func BuildSimpleScenario() (*memory.CompositionStore, *memory.UnitCostTable) {
	store := memory.NewCompositionStore()
	SeedGeneration(store, "A", 1, FixtureEpoch, Line{"B", "2"})
	SeedGeneration(store, "B", 1, FixtureEpoch, Line{"C", "3"})

	costs := memory.NewUnitCostTable(entities.UnitCosts{
		"A": Qty("0"),
		"B": Qty("10"),
		"C": Qty("2"),
	})
	return store, costs
}

// BuildAerospaceScenario builds a launch vehicle BOM in which TURBOPUMP is
// reached through both stage engines:
//
//	SATURN_V
//	├── S_IC_STAGE x1
//	│   └── F1_ENGINE x5
//	│       ├── TURBOPUMP x1
//	│       └── INJECTOR x1
//	└── S_II_STAGE x1
//	    └── J2_ENGINE x5
//	        └── TURBOPUMP x2
//
// TURBOPUMP has no unit cost, so the rollup of SATURN_V is incomplete unless
// the caller adds one.
func BuildAerospaceScenario() (*memory.CompositionStore, *memory.UnitCostTable) {
	store := memory.NewCompositionStore()
	SeedGeneration(store, "SATURN_V", 1, FixtureEpoch, Line{"S_IC_STAGE", "1"}, Line{"S_II_STAGE", "1"})
	SeedGeneration(store, "S_IC_STAGE", 1, FixtureEpoch, Line{"F1_ENGINE", "5"})
	SeedGeneration(store, "S_II_STAGE", 1, FixtureEpoch, Line{"J2_ENGINE", "5"})
	SeedGeneration(store, "F1_ENGINE", 1, FixtureEpoch, Line{"TURBOPUMP", "1"}, Line{"INJECTOR", "1"})
	SeedGeneration(store, "J2_ENGINE", 1, FixtureEpoch, Line{"TURBOPUMP", "2"})

	costs := memory.NewUnitCostTable(entities.UnitCosts{
		"SATURN_V":   Qty("1000"),
		"S_IC_STAGE": Qty("500"),
		"S_II_STAGE": Qty("400"),
		"F1_ENGINE":  Qty("100"),
		"J2_ENGINE":  Qty("80"),
		"INJECTOR":   Qty("7.5"),
	})
	return store, costs
}
