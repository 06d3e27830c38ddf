package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// Decimals marshal as JSON strings and accept either strings or numbers.

type CreateLineRequest struct {
	ParentProductID string          `json:"parent_product_id" binding:"required"`
	ChildProductID  string          `json:"child_product_id" binding:"required"`
	QuantityPer     decimal.Decimal `json:"qty_per"`
}

type UpdateLineRequest struct {
	ChildProductID *string          `json:"child_product_id"`
	QuantityPer    *decimal.Decimal `json:"qty_per"`
}

type VersionLine struct {
	ChildProductID string          `json:"child_product_id" binding:"required"`
	QuantityPer    decimal.Decimal `json:"qty_per"`
}

type CreateVersionRequest struct {
	Lines     []VersionLine `json:"lines"`
	CutoverAt *time.Time    `json:"cutover_at"`
}

type LineResponse struct {
	ID              uuid.UUID       `json:"id"`
	ParentProductID string          `json:"parent_product_id"`
	ChildProductID  string          `json:"child_product_id"`
	QuantityPer     decimal.Decimal `json:"qty_per"`
	Version         int             `json:"version"`
	ValidFrom       time.Time       `json:"valid_from"`
	ValidTo         *time.Time      `json:"valid_to"`
	Active          bool            `json:"active"`
}

type TreeNodeResponse struct {
	ProductID string              `json:"product_id"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Level     int                 `json:"level"`
	Children  []*TreeNodeResponse `json:"children"`
}

type CostNodeResponse struct {
	ProductID      string              `json:"product_id"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Level          int                 `json:"level"`
	UnitCost       decimal.Decimal     `json:"unit_cost"`
	TotalCost      decimal.Decimal     `json:"total_cost"`
	CostIncomplete bool                `json:"cost_incomplete"`
	Children       []*CostNodeResponse `json:"children"`
}

type VersionSummaryResponse struct {
	Version   int        `json:"version"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
	LineCount int        `json:"line_count"`
}

type VersionSnapshotResponse struct {
	ParentProductID string          `json:"parent_product_id"`
	Version         int             `json:"version"`
	ValidFrom       *time.Time      `json:"valid_from,omitempty"`
	ValidTo         *time.Time      `json:"valid_to"`
	LineCount       int             `json:"line_count"`
	Lines           []*LineResponse `json:"lines"`
}

func toLineResponse(e *entities.CompositionEdge) *LineResponse {
	return &LineResponse{
		ID:              e.ID,
		ParentProductID: string(e.ParentProductID),
		ChildProductID:  string(e.ChildProductID),
		QuantityPer:     e.QuantityPerParent,
		Version:         e.Version,
		ValidFrom:       e.ValidFrom,
		ValidTo:         e.ValidTo,
		Active:          e.Active,
	}
}

func toLineResponses(edges []*entities.CompositionEdge) []*LineResponse {
	out := make([]*LineResponse, 0, len(edges))
	for _, e := range edges {
		out = append(out, toLineResponse(e))
	}
	return out
}

func toTreeResponse(n *entities.CompositionNode) *TreeNodeResponse {
	out := &TreeNodeResponse{
		ProductID: string(n.ProductID),
		Quantity:  n.Quantity,
		Level:     n.Level,
		Children:  make([]*TreeNodeResponse, 0, len(n.Children)),
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, toTreeResponse(child))
	}
	return out
}

func toCostResponse(n *entities.CostedNode) *CostNodeResponse {
	out := &CostNodeResponse{
		ProductID:      string(n.ProductID),
		Quantity:       n.Quantity,
		Level:          n.Level,
		UnitCost:       n.UnitCost,
		TotalCost:      n.TotalCost,
		CostIncomplete: n.CostIncomplete,
		Children:       make([]*CostNodeResponse, 0, len(n.Children)),
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, toCostResponse(child))
	}
	return out
}

func toSnapshotResponse(s *entities.VersionSnapshot) *VersionSnapshotResponse {
	out := &VersionSnapshotResponse{
		ParentProductID: string(s.ParentProductID),
		Version:         s.Version,
		ValidTo:         s.ValidTo,
		LineCount:       s.LineCount,
		Lines:           toLineResponses(s.Lines),
	}
	if s.Version > 0 {
		validFrom := s.ValidFrom
		out.ValidFrom = &validFrom
	}
	return out
}
