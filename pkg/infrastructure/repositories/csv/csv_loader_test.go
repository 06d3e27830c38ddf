package csv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoader_ReadCompositionLines(t *testing.T) {
	input := `parent_product_id,child_product_id,qty_per,valid_from
A,B,2,2026-01-01
A,C,0.5,2026-01-01
B,C,3,
A,B,4,2026-04-01T00:00:00Z
`
	rows, err := NewLoader().ReadCompositionLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCompositionLines failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}

	if rows[0].ParentProductID != "A" || rows[0].Line.ChildProductID != "B" {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if !rows[1].Line.QuantityPerParent.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected quantity 0.5, got %s", rows[1].Line.QuantityPerParent)
	}
	if rows[2].ValidFrom != nil {
		t.Errorf("Expected empty valid_from to be nil, got %v", rows[2].ValidFrom)
	}
	expected := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	if rows[3].ValidFrom == nil || !rows[3].ValidFrom.Equal(expected) {
		t.Errorf("Expected valid_from %v, got %v", expected, rows[3].ValidFrom)
	}
}

func TestLoader_ReadCompositionLinesErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"header only", "parent_product_id,child_product_id,qty_per,valid_from\n", "at least one data row"},
		{"wrong header", "parent,child,qty,from\nA,B,1,\n", "header mismatch"},
		{"bad quantity", "parent_product_id,child_product_id,qty_per,valid_from\nA,B,two,\n", "row 2"},
		{"bad date", "parent_product_id,child_product_id,qty_per,valid_from\nA,B,1,01/04/2026\n", "invalid date format"},
		{"empty parent", "parent_product_id,child_product_id,qty_per,valid_from\n,B,1,\n", "parent_product_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().ReadCompositionLines(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoader_LoadUnitCosts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "costs.csv")
	content := "product_id,unit_cost\nA,0\nB,10\nC,2.25\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	costs, err := NewLoader().LoadUnitCosts(path)
	if err != nil {
		t.Fatalf("LoadUnitCosts failed: %v", err)
	}
	if len(costs) != 3 {
		t.Fatalf("Expected 3 costs, got %d", len(costs))
	}
	if !costs["C"].Equal(decimal.RequireFromString("2.25")) {
		t.Errorf("Expected C=2.25, got %s", costs["C"])
	}

	dup := "product_id,unit_cost\nA,1\nA,2\n"
	if _, err := NewLoader().ReadUnitCosts(strings.NewReader(dup)); err == nil {
		t.Error("Expected error for duplicate product")
	}
	negative := "product_id,unit_cost\nA,-1\n"
	if _, err := NewLoader().ReadUnitCosts(strings.NewReader(negative)); err == nil {
		t.Error("Expected error for negative cost")
	}
	if _, err := NewLoader().LoadUnitCosts(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestGroupVersions(t *testing.T) {
	input := `parent_product_id,child_product_id,qty_per,valid_from
A,B,4,2026-04-01
B,C,3,
A,B,2,2026-01-01
A,C,1,2026-01-01
D,A,1,2026-01-01
`
	rows, err := NewLoader().ReadCompositionLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCompositionLines failed: %v", err)
	}

	batches := GroupVersions(rows)
	if len(batches) != 4 {
		t.Fatalf("Expected 4 batches, got %d", len(batches))
	}

	order := []string{}
	for _, batch := range batches {
		label := string(batch.ParentProductID) + "@"
		if batch.ValidFrom != nil {
			label += batch.ValidFrom.Format("2006-01-02")
		}
		order = append(order, label)
	}
	got := strings.Join(order, " ")
	want := "A@2026-01-01 D@2026-01-01 A@2026-04-01 B@"
	if got != want {
		t.Errorf("Expected batches %q, got %q", want, got)
	}
	if len(batches[0].Lines) != 2 {
		t.Errorf("Expected 2 lines in A's first version, got %d", len(batches[0].Lines))
	}
}
