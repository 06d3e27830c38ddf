package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompositionEdge states that one unit of the parent consumes QuantityPerParent
// units of the child during the half-open window [ValidFrom, ValidTo).
type CompositionEdge struct {
	ID                uuid.UUID
	ParentProductID   ProductID
	ChildProductID    ProductID
	QuantityPerParent Quantity
	Version           int
	ValidFrom         time.Time
	ValidTo           *time.Time // nil = open, currently active
	Active            bool
}

// NewCompositionEdge creates a validated, active edge without version information.
// Version and validity are assigned by the version ledger.
func NewCompositionEdge(parentID, childID ProductID, qtyPer Quantity) (*CompositionEdge, error) {
	edge := &CompositionEdge{
		ID:                uuid.New(),
		ParentProductID:   parentID,
		ChildProductID:    childID,
		QuantityPerParent: qtyPer,
		Active:            true,
	}
	if err := edge.ValidateLine(); err != nil {
		return nil, err
	}
	return edge, nil
}

// ValidateLine checks the caller-supplied fields of an edge
func (e *CompositionEdge) ValidateLine() error {
	if e.ParentProductID == "" {
		return &ValidationError{Field: "parent_product_id", Reason: "cannot be empty"}
	}
	if e.ChildProductID == "" {
		return &ValidationError{Field: "child_product_id", Reason: "cannot be empty"}
	}
	if e.ParentProductID == e.ChildProductID {
		return &ValidationError{
			Field:  "child_product_id",
			Reason: "parent and child cannot be the same product: " + string(e.ParentProductID),
		}
	}
	if !e.QuantityPerParent.IsPositive() {
		return &ValidationError{
			Field:  "quantity_per_parent",
			Reason: "must be positive, got " + e.QuantityPerParent.String(),
		}
	}
	return nil
}

// Validate checks every invariant a stored edge must hold
func (e *CompositionEdge) Validate() error {
	if err := e.ValidateLine(); err != nil {
		return err
	}
	if e.Version < 1 {
		return &ValidationError{Field: "version", Reason: "must be at least 1"}
	}
	if e.ValidTo != nil && !e.ValidFrom.Before(*e.ValidTo) {
		return &ValidationError{Field: "valid_to", Reason: "must be after valid_from"}
	}
	return nil
}

// IsOpen reports whether the edge belongs to the current generation of its parent
func (e *CompositionEdge) IsOpen() bool {
	return e.ValidTo == nil
}

// ValidAt reports whether the edge is active and its window contains t
func (e *CompositionEdge) ValidAt(t time.Time) bool {
	if !e.Active {
		return false
	}
	return windowContains(e.ValidFrom, e.ValidTo, t)
}

// Clone returns a deep copy of the edge
func (e *CompositionEdge) Clone() *CompositionEdge {
	c := *e
	if e.ValidTo != nil {
		validTo := *e.ValidTo
		c.ValidTo = &validTo
	}
	return &c
}

// LineInput is the caller-supplied part of a composition edge
type LineInput struct {
	ChildProductID    ProductID
	QuantityPerParent Quantity
}

// NewLineInput parses a quantity string into a LineInput
func NewLineInput(childID ProductID, qtyPer string) (LineInput, error) {
	qty, err := decimal.NewFromString(qtyPer)
	if err != nil {
		return LineInput{}, &ValidationError{Field: "quantity_per_parent", Reason: "not a number: " + qtyPer}
	}
	return LineInput{ChildProductID: childID, QuantityPerParent: qty}, nil
}

// LineUpdate carries the fields of a line to change; nil fields are left as is
type LineUpdate struct {
	ChildProductID    *ProductID
	QuantityPerParent *Quantity
}

// EdgeFilter narrows a listing of composition edges. Zero values do not filter.
type EdgeFilter struct {
	ParentProductID ProductID
	ChildProductID  ProductID
	Version         int
	ActiveOnly      bool
	OpenOnly        bool
}

// Matches reports whether the edge passes the filter
func (f EdgeFilter) Matches(e *CompositionEdge) bool {
	if f.ParentProductID != "" && e.ParentProductID != f.ParentProductID {
		return false
	}
	if f.ChildProductID != "" && e.ChildProductID != f.ChildProductID {
		return false
	}
	if f.Version != 0 && e.Version != f.Version {
		return false
	}
	if f.ActiveOnly && !e.Active {
		return false
	}
	if f.OpenOnly && !e.IsOpen() {
		return false
	}
	return true
}

func windowContains(from time.Time, to *time.Time, t time.Time) bool {
	if t.Before(from) {
		return false
	}
	return to == nil || t.Before(*to)
}
