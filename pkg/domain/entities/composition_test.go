package entities

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCompositionEdge_Validation(t *testing.T) {
	edge, err := NewCompositionEdge("PARENT", "CHILD", decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Expected valid edge creation to succeed: %v", err)
	}
	if !edge.QuantityPerParent.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected quantity per 2, got %s", edge.QuantityPerParent)
	}
	if !edge.Active {
		t.Error("Expected new edge to be active")
	}

	testCases := []struct {
		name        string
		parent      ProductID
		child       ProductID
		qtyPer      decimal.Decimal
		expectError string
	}{
		{"empty parent", "", "CHILD", decimal.NewFromInt(1), "parent_product_id: cannot be empty"},
		{"empty child", "PARENT", "", decimal.NewFromInt(1), "child_product_id: cannot be empty"},
		{"parent equals child", "SAME", "SAME", decimal.NewFromInt(1), "child_product_id: parent and child cannot be the same product: SAME"},
		{"zero quantity", "PARENT", "CHILD", decimal.Zero, "quantity_per_parent: must be positive, got 0"},
		{"negative quantity", "PARENT", "CHILD", decimal.NewFromInt(-1), "quantity_per_parent: must be positive, got -1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCompositionEdge(tc.parent, tc.child, tc.qtyPer)
			if err == nil {
				t.Fatalf("Expected error %q", tc.expectError)
			}
			if err.Error() != tc.expectError {
				t.Errorf("Expected error %q, got %q", tc.expectError, err.Error())
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("Expected ValidationError, got %T", err)
			}
		})
	}
}

func TestCompositionEdge_FractionalQuantity(t *testing.T) {
	edge, err := NewCompositionEdge("CABLE_ASSY", "WIRE", decimal.RequireFromString("0.25"))
	if err != nil {
		t.Fatalf("Expected fractional quantity to be accepted: %v", err)
	}
	if edge.QuantityPerParent.String() != "0.25" {
		t.Errorf("Expected 0.25, got %s", edge.QuantityPerParent)
	}
}

func TestCompositionEdge_ValidAt(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	closed := &CompositionEdge{ValidFrom: from, ValidTo: &to, Active: true}
	open := &CompositionEdge{ValidFrom: to, Active: true}
	deleted := &CompositionEdge{ValidFrom: from, Active: false}

	tests := []struct {
		name string
		edge *CompositionEdge
		at   time.Time
		want bool
	}{
		{"before window", closed, from.Add(-time.Second), false},
		{"valid_from is inclusive", closed, from, true},
		{"inside window", closed, from.AddDate(0, 1, 0), true},
		{"valid_to is exclusive", closed, to, false},
		{"open edge at cutover", open, to, true},
		{"open edge far future", open, to.AddDate(10, 0, 0), true},
		{"soft deleted edge", deleted, from.AddDate(0, 1, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.edge.ValidAt(tt.at); got != tt.want {
				t.Errorf("ValidAt(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestCompositionEdge_ValidateWindow(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	edge, err := NewCompositionEdge("A", "B", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("NewCompositionEdge failed: %v", err)
	}

	edge.Version = 1
	edge.ValidFrom = from
	if err := edge.Validate(); err != nil {
		t.Fatalf("Expected open edge to be valid: %v", err)
	}

	sameInstant := from
	edge.ValidTo = &sameInstant
	if err := edge.Validate(); err == nil {
		t.Error("Expected empty window to be rejected")
	}

	edge.ValidTo = nil
	edge.Version = 0
	if err := edge.Validate(); err == nil {
		t.Error("Expected version 0 to be rejected")
	}
}

func TestCompositionEdge_CloneIsIndependent(t *testing.T) {
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	edge := &CompositionEdge{ParentProductID: "A", ChildProductID: "B", ValidTo: &to}

	clone := edge.Clone()
	later := to.AddDate(0, 1, 0)
	*clone.ValidTo = later

	if !edge.ValidTo.Equal(to) {
		t.Errorf("Expected original ValidTo to stay %s, got %s", to, edge.ValidTo)
	}
}

func TestEdgeFilter_Matches(t *testing.T) {
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	edge := &CompositionEdge{ParentProductID: "A", ChildProductID: "B", Version: 2, Active: true, ValidTo: &to}

	tests := []struct {
		name   string
		filter EdgeFilter
		want   bool
	}{
		{"empty filter", EdgeFilter{}, true},
		{"parent match", EdgeFilter{ParentProductID: "A"}, true},
		{"parent mismatch", EdgeFilter{ParentProductID: "X"}, false},
		{"child match", EdgeFilter{ChildProductID: "B"}, true},
		{"version mismatch", EdgeFilter{Version: 1}, false},
		{"active only", EdgeFilter{ActiveOnly: true}, true},
		{"open only excludes closed edge", EdgeFilter{OpenOnly: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(edge); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLineInput(t *testing.T) {
	line, err := NewLineInput("BOLT", "1.5")
	if err != nil {
		t.Fatalf("NewLineInput failed: %v", err)
	}
	if !line.QuantityPerParent.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected 1.5, got %s", line.QuantityPerParent)
	}

	if _, err := NewLineInput("BOLT", "many"); err == nil {
		t.Error("Expected error for non-numeric quantity")
	}
}
