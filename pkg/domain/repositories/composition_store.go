package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// CompositionStore provides durable access to composition edges and their generations.
//
// Soft-deleted edges (Active=false) are only returned by GetEdge, FindEdges
// without ActiveOnly, and FetchEdges with activeOnly=false. Every other read
// excludes them.
type CompositionStore interface {
	// FetchEdges returns every edge ever recorded for a parent, ordered by version then child
	FetchEdges(ctx context.Context, parentID entities.ProductID, activeOnly bool) ([]*entities.CompositionEdge, error)

	// FetchEdgesValidAt returns the active edges of a parent whose window contains at
	FetchEdgesValidAt(ctx context.Context, parentID entities.ProductID, at time.Time) ([]*entities.CompositionEdge, error)

	GetEdge(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error)
	FindEdges(ctx context.Context, filter entities.EdgeFilter) ([]*entities.CompositionEdge, error)

	InsertEdges(ctx context.Context, edges []*entities.CompositionEdge) error

	// CloseEdges sets ValidTo on open edges. Closing an edge that is already
	// closed returns a *entities.VersionConflictError.
	CloseEdges(ctx context.Context, ids []uuid.UUID, validTo time.Time) error

	// UpdateEdge overwrites the mutable fields (child, quantity, active) of an edge
	UpdateEdge(ctx context.Context, edge *entities.CompositionEdge) error

	// CurrentGeneration returns the open generation of a parent, or nil when no BOM is defined.
	// Inside a transaction the generation is locked against concurrent writers where the
	// backend supports it.
	CurrentGeneration(ctx context.Context, parentID entities.ProductID) (*entities.Generation, error)

	// Generations returns every generation of a parent ordered by version ascending
	Generations(ctx context.Context, parentID entities.ProductID) ([]*entities.Generation, error)

	// InsertGeneration records a new generation. A duplicate (parent, version)
	// returns a *entities.VersionConflictError.
	InsertGeneration(ctx context.Context, gen *entities.Generation) error

	// CloseGeneration sets ValidTo on an open generation. A generation that is
	// missing or already closed returns a *entities.VersionConflictError.
	CloseGeneration(ctx context.Context, parentID entities.ProductID, version int, validTo time.Time) error

	// WithinTransaction runs fn against a store bound to one atomic unit of work.
	// Any error returned by fn rolls back every write made through tx.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx CompositionStore) error) error
}
