package events

import (
	"time"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

const (
	BOMLineCreatedEvent    = "bom.line.created"
	BOMLineUpdatedEvent    = "bom.line.updated"
	BOMLineDeletedEvent    = "bom.line.deleted"
	BOMVersionCreatedEvent = "bom.version.created"
)

type BOMLineCreated struct {
	Line entities.CompositionEdge `json:"line"`
}

type BOMLineUpdated struct {
	Line entities.CompositionEdge `json:"line"`
}

type BOMLineDeleted struct {
	Line entities.CompositionEdge `json:"line"`
}

type BOMVersionCreated struct {
	ParentProductID entities.ProductID `json:"parent_product_id"`
	Version         int                `json:"version"`
	ValidFrom       time.Time          `json:"valid_from"`
	LineCount       int                `json:"line_count"`
}

func NewBOMLineCreatedEvent(line entities.CompositionEdge, at time.Time) Event {
	return NewEvent(BOMLineCreatedEvent, string(line.ParentProductID), BOMLineCreated{Line: line}, at)
}

func NewBOMLineUpdatedEvent(line entities.CompositionEdge, at time.Time) Event {
	return NewEvent(BOMLineUpdatedEvent, string(line.ParentProductID), BOMLineUpdated{Line: line}, at)
}

func NewBOMLineDeletedEvent(line entities.CompositionEdge, at time.Time) Event {
	return NewEvent(BOMLineDeletedEvent, string(line.ParentProductID), BOMLineDeleted{Line: line}, at)
}

func NewBOMVersionCreatedEvent(snapshot *entities.VersionSnapshot, at time.Time) Event {
	return NewEvent(BOMVersionCreatedEvent, string(snapshot.ParentProductID), BOMVersionCreated{
		ParentProductID: snapshot.ParentProductID,
		Version:         snapshot.Version,
		ValidFrom:       snapshot.ValidFrom,
		LineCount:       snapshot.LineCount,
	}, at)
}
