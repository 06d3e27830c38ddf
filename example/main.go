package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/application/services/bom"
	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/memory"
)

func main() {
	ctx := context.Background()

	// Create repositories
	store := memory.NewCompositionStore()
	costs := memory.NewUnitCostTable(entities.UnitCosts{
		"ROCKET_ENGINE":      decimal.NewFromInt(250000),
		"TURBOPUMP_V2":       decimal.NewFromInt(80000),
		"TURBOPUMP_V3":       decimal.NewFromInt(95000),
		"COMBUSTION_CHAMBER": decimal.NewFromInt(120000),
		"VALVE_ASSEMBLY":     decimal.RequireFromString("4500.75"),
	})

	engine := bom.NewEngine(store, costs, nil, nil, bom.DefaultEngineConfig())

	// Engine BOM: turbopump V2 until the V3 cutover on 2025-12-01
	launch := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cutover := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	if err := setupRocketEngineBOM(ctx, engine, launch, cutover); err != nil {
		fmt.Printf("❌ Setup failed: %v\n", err)
		return
	}

	fmt.Println("🚀 Costing a 9-engine first stage...")
	for _, asOf := range []time.Time{cutover.AddDate(0, -1, 0), cutover} {
		costed, err := engine.CalculateExplodedCost(ctx, "ROCKET_ENGINE", &asOf)
		if err != nil {
			fmt.Printf("❌ Explosion failed: %v\n", err)
			return
		}
		stage := costed.TotalCost.Mul(decimal.NewFromInt(9))
		fmt.Printf("\n📊 As of %s: %s per engine, %s per stage\n",
			asOf.Format("2006-01-02"), costed.TotalCost.StringFixed(2), stage.StringFixed(2))
		printTree(costed)
	}

	// Closing the loop is rejected and leaves the BOM untouched
	_, err := engine.CreateLine(ctx, "VALVE_ASSEMBLY", entities.LineInput{
		ChildProductID:    "ROCKET_ENGINE",
		QuantityPerParent: decimal.NewFromInt(1),
	})
	var cycle *entities.CyclicCompositionError
	if errors.As(err, &cycle) {
		fmt.Printf("\n🚨 Rejected: %v\n", cycle)
	}

	history, err := engine.GetVersionHistory(ctx, "ROCKET_ENGINE")
	if err != nil {
		fmt.Printf("❌ History failed: %v\n", err)
		return
	}
	fmt.Println("\n📋 ROCKET_ENGINE versions:")
	for _, v := range history {
		validTo := "open"
		if v.ValidTo != nil {
			validTo = v.ValidTo.Format("2006-01-02")
		}
		fmt.Printf("  v%d: %s -> %s (%d lines)\n", v.Version, v.ValidFrom.Format("2006-01-02"), validTo, v.LineCount)
	}

	fmt.Println("\n✅ BOM analysis complete!")
}

func setupRocketEngineBOM(ctx context.Context, engine *bom.Engine, launch, cutover time.Time) error {
	line := func(child string, qty int64) entities.LineInput {
		return entities.LineInput{ChildProductID: entities.ProductID(child), QuantityPerParent: decimal.NewFromInt(qty)}
	}

	// 2 turbopumps, 1 chamber and 4 valves per engine
	if _, err := engine.CreateNewVersion(ctx, "ROCKET_ENGINE", []entities.LineInput{
		line("TURBOPUMP_V2", 2),
		line("COMBUSTION_CHAMBER", 1),
		line("VALVE_ASSEMBLY", 4),
	}, &launch); err != nil {
		return err
	}

	_, err := engine.CreateNewVersion(ctx, "ROCKET_ENGINE", []entities.LineInput{
		line("TURBOPUMP_V3", 2),
		line("COMBUSTION_CHAMBER", 1),
		line("VALVE_ASSEMBLY", 4),
	}, &cutover)
	return err
}

func printTree(node *entities.CostedNode) {
	fmt.Printf("  %s%s x%s = %s\n",
		strings.Repeat("  ", node.Level), node.ProductID, node.Quantity.String(), node.TotalCost.StringFixed(2))
	for _, child := range node.Children {
		printTree(child)
	}
}
