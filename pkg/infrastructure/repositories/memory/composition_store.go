package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
)

// CompositionStore keeps composition edges and generations in ordered
// in-memory trees. Transactions are serialized: a transaction works on a
// copy-on-write snapshot of the trees which replaces the live state only
// when the transaction function succeeds.
type CompositionStore struct {
	mu   sync.RWMutex
	data *compositionData
}

// NewCompositionStore creates an empty store
func NewCompositionStore() *CompositionStore {
	return &CompositionStore{data: newCompositionData()}
}

// Verify interface compliance
var _ repositories.CompositionStore = (*CompositionStore)(nil)
var _ repositories.CompositionStore = (*compositionTx)(nil)

type compositionData struct {
	edges       *btree.BTreeG[*entities.CompositionEdge] // parent, version, child, id
	edgesByID   *btree.BTreeG[*entities.CompositionEdge] // id
	generations *btree.BTreeG[*entities.Generation]      // parent, version
}

func newCompositionData() *compositionData {
	return &compositionData{
		edges:       btree.NewBTreeG(edgeLess),
		edgesByID:   btree.NewBTreeG(edgeIDLess),
		generations: btree.NewBTreeG(generationLess),
	}
}

func (d *compositionData) copy() *compositionData {
	return &compositionData{
		edges:       d.edges.Copy(),
		edgesByID:   d.edgesByID.Copy(),
		generations: d.generations.Copy(),
	}
}

func edgeLess(a, b *entities.CompositionEdge) bool {
	if a.ParentProductID != b.ParentProductID {
		return a.ParentProductID < b.ParentProductID
	}
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	if a.ChildProductID != b.ChildProductID {
		return a.ChildProductID < b.ChildProductID
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func edgeIDLess(a, b *entities.CompositionEdge) bool {
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func generationLess(a, b *entities.Generation) bool {
	if a.ParentProductID != b.ParentProductID {
		return a.ParentProductID < b.ParentProductID
	}
	return a.Version < b.Version
}

// Trees share nodes between copies, so stored values are never mutated in place.
// Every read returns a clone and every write stores a fresh one.

// FetchEdges returns every edge of a parent ordered by version then child
func (s *CompositionStore) FetchEdges(ctx context.Context, parentID entities.ProductID, activeOnly bool) ([]*entities.CompositionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.fetchEdges(parentID, activeOnly), nil
}

// FetchEdgesValidAt returns the active edges of a parent valid at the given instant
func (s *CompositionStore) FetchEdgesValidAt(ctx context.Context, parentID entities.ProductID, at time.Time) ([]*entities.CompositionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.fetchEdgesValidAt(parentID, at), nil
}

// GetEdge returns an edge by id, including soft-deleted edges
func (s *CompositionStore) GetEdge(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getEdge(id)
}

// FindEdges lists edges matching the filter
func (s *CompositionStore) FindEdges(ctx context.Context, filter entities.EdgeFilter) ([]*entities.CompositionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.findEdges(filter), nil
}

// CurrentGeneration returns the open generation of a parent or nil
func (s *CompositionStore) CurrentGeneration(ctx context.Context, parentID entities.ProductID) (*entities.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.currentGeneration(parentID), nil
}

// Generations returns every generation of a parent, oldest first
func (s *CompositionStore) Generations(ctx context.Context, parentID entities.ProductID) ([]*entities.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.generationsOf(parentID), nil
}

func (s *CompositionStore) InsertEdges(ctx context.Context, edges []*entities.CompositionEdge) error {
	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		return tx.InsertEdges(ctx, edges)
	})
}

func (s *CompositionStore) CloseEdges(ctx context.Context, ids []uuid.UUID, validTo time.Time) error {
	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		return tx.CloseEdges(ctx, ids, validTo)
	})
}

func (s *CompositionStore) UpdateEdge(ctx context.Context, edge *entities.CompositionEdge) error {
	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		return tx.UpdateEdge(ctx, edge)
	})
}

func (s *CompositionStore) InsertGeneration(ctx context.Context, gen *entities.Generation) error {
	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		return tx.InsertGeneration(ctx, gen)
	})
}

func (s *CompositionStore) CloseGeneration(ctx context.Context, parentID entities.ProductID, version int, validTo time.Time) error {
	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		return tx.CloseGeneration(ctx, parentID, version, validTo)
	})
}

// WithinTransaction runs fn on a snapshot of the store and publishes the
// snapshot only if fn returns nil.
func (s *CompositionStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.CompositionStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &compositionTx{data: s.data.copy()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

// Stats reports the number of stored edges and generations
func (s *CompositionStore) Stats() (edges, generations int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.edges.Len(), s.data.generations.Len()
}

// compositionTx is the view handed to transaction functions. It holds the
// store's write lock for its whole lifetime, so it does no locking itself.
type compositionTx struct {
	data *compositionData
}

func (t *compositionTx) FetchEdges(ctx context.Context, parentID entities.ProductID, activeOnly bool) ([]*entities.CompositionEdge, error) {
	return t.data.fetchEdges(parentID, activeOnly), nil
}

func (t *compositionTx) FetchEdgesValidAt(ctx context.Context, parentID entities.ProductID, at time.Time) ([]*entities.CompositionEdge, error) {
	return t.data.fetchEdgesValidAt(parentID, at), nil
}

func (t *compositionTx) GetEdge(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error) {
	return t.data.getEdge(id)
}

func (t *compositionTx) FindEdges(ctx context.Context, filter entities.EdgeFilter) ([]*entities.CompositionEdge, error) {
	return t.data.findEdges(filter), nil
}

func (t *compositionTx) CurrentGeneration(ctx context.Context, parentID entities.ProductID) (*entities.Generation, error) {
	return t.data.currentGeneration(parentID), nil
}

func (t *compositionTx) Generations(ctx context.Context, parentID entities.ProductID) ([]*entities.Generation, error) {
	return t.data.generationsOf(parentID), nil
}

func (t *compositionTx) InsertEdges(ctx context.Context, edges []*entities.CompositionEdge) error {
	for _, edge := range edges {
		if err := edge.Validate(); err != nil {
			return err
		}
		if _, exists := t.data.edgesByID.Get(&entities.CompositionEdge{ID: edge.ID}); exists {
			return &entities.ValidationError{Field: "id", Reason: "duplicate composition line id " + edge.ID.String()}
		}
		t.data.putEdge(edge.Clone())
	}
	return nil
}

func (t *compositionTx) CloseEdges(ctx context.Context, ids []uuid.UUID, validTo time.Time) error {
	for _, id := range ids {
		stored, ok := t.data.edgesByID.Get(&entities.CompositionEdge{ID: id})
		if !ok {
			return &entities.NotFoundError{Kind: "composition line", ID: id.String()}
		}
		if !stored.IsOpen() {
			return &entities.VersionConflictError{ParentProductID: stored.ParentProductID, Version: stored.Version}
		}
		closed := stored.Clone()
		closed.ValidTo = &validTo
		t.data.putEdge(closed)
	}
	return nil
}

func (t *compositionTx) UpdateEdge(ctx context.Context, edge *entities.CompositionEdge) error {
	stored, ok := t.data.edgesByID.Get(&entities.CompositionEdge{ID: edge.ID})
	if !ok {
		return &entities.NotFoundError{Kind: "composition line", ID: edge.ID.String()}
	}
	if !stored.IsOpen() {
		return &entities.VersionConflictError{ParentProductID: stored.ParentProductID, Version: stored.Version}
	}

	updated := stored.Clone()
	updated.ChildProductID = edge.ChildProductID
	updated.QuantityPerParent = edge.QuantityPerParent
	updated.Active = edge.Active

	// the ordered tree is keyed by child, so the old entry goes first
	t.data.edges.Delete(stored)
	t.data.putEdge(updated)
	return nil
}

func (t *compositionTx) InsertGeneration(ctx context.Context, gen *entities.Generation) error {
	if _, exists := t.data.generations.Get(gen); exists {
		return &entities.VersionConflictError{ParentProductID: gen.ParentProductID, Version: gen.Version}
	}
	t.data.generations.Set(gen.Clone())
	return nil
}

func (t *compositionTx) CloseGeneration(ctx context.Context, parentID entities.ProductID, version int, validTo time.Time) error {
	key := &entities.Generation{ParentProductID: parentID, Version: version}
	stored, ok := t.data.generations.Get(key)
	if !ok || !stored.IsOpen() {
		return &entities.VersionConflictError{ParentProductID: parentID, Version: version}
	}
	closed := stored.Clone()
	closed.ValidTo = &validTo
	t.data.generations.Set(closed)
	return nil
}

func (t *compositionTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.CompositionStore) error) error {
	return fn(ctx, t)
}

func (d *compositionData) putEdge(edge *entities.CompositionEdge) {
	d.edges.Set(edge)
	d.edgesByID.Set(edge)
}

func (d *compositionData) scanParent(parentID entities.ProductID, visit func(edge *entities.CompositionEdge)) {
	pivot := &entities.CompositionEdge{ParentProductID: parentID}
	d.edges.Ascend(pivot, func(edge *entities.CompositionEdge) bool {
		if edge.ParentProductID != parentID {
			return false
		}
		visit(edge)
		return true
	})
}

func (d *compositionData) fetchEdges(parentID entities.ProductID, activeOnly bool) []*entities.CompositionEdge {
	result := make([]*entities.CompositionEdge, 0)
	d.scanParent(parentID, func(edge *entities.CompositionEdge) {
		if activeOnly && !edge.Active {
			return
		}
		result = append(result, edge.Clone())
	})
	return result
}

func (d *compositionData) fetchEdgesValidAt(parentID entities.ProductID, at time.Time) []*entities.CompositionEdge {
	result := make([]*entities.CompositionEdge, 0)
	d.scanParent(parentID, func(edge *entities.CompositionEdge) {
		if edge.ValidAt(at) {
			result = append(result, edge.Clone())
		}
	})
	return result
}

func (d *compositionData) getEdge(id uuid.UUID) (*entities.CompositionEdge, error) {
	edge, ok := d.edgesByID.Get(&entities.CompositionEdge{ID: id})
	if !ok {
		return nil, &entities.NotFoundError{Kind: "composition line", ID: id.String()}
	}
	return edge.Clone(), nil
}

func (d *compositionData) findEdges(filter entities.EdgeFilter) []*entities.CompositionEdge {
	result := make([]*entities.CompositionEdge, 0)
	collect := func(edge *entities.CompositionEdge) {
		if filter.Matches(edge) {
			result = append(result, edge.Clone())
		}
	}

	if filter.ParentProductID != "" {
		d.scanParent(filter.ParentProductID, collect)
		return result
	}
	d.edges.Scan(func(edge *entities.CompositionEdge) bool {
		collect(edge)
		return true
	})
	return result
}

func (d *compositionData) generationsOf(parentID entities.ProductID) []*entities.Generation {
	result := make([]*entities.Generation, 0)
	d.generations.Ascend(&entities.Generation{ParentProductID: parentID}, func(gen *entities.Generation) bool {
		if gen.ParentProductID != parentID {
			return false
		}
		result = append(result, gen.Clone())
		return true
	})
	return result
}

func (d *compositionData) currentGeneration(parentID entities.ProductID) *entities.Generation {
	var current *entities.Generation
	d.generations.Descend(&entities.Generation{ParentProductID: parentID, Version: int(^uint(0) >> 1)}, func(gen *entities.Generation) bool {
		if gen.ParentProductID != parentID {
			return false
		}
		if gen.IsOpen() {
			current = gen.Clone()
			return false
		}
		return true
	})
	return current
}
