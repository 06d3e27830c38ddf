package bom

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
	"github.com/vsinha/bomengine/pkg/domain/services"
	"github.com/vsinha/bomengine/pkg/infrastructure/logger"
	"github.com/vsinha/bomengine/pkg/infrastructure/metrics"
)

// DefaultVersionRetries is how often a write is retried after losing a version race
const DefaultVersionRetries = 3

// VersionLedger manages the temporal generations of every parent's composition.
// All writes to composition edges go through it so that cycle checks and
// generation bookkeeping happen inside one store transaction.
type VersionLedger struct {
	store   repositories.CompositionStore
	clock   func() time.Time
	retries int
	log     *logger.Logger
}

// LedgerOption configures a VersionLedger
type LedgerOption func(*VersionLedger)

// WithClock overrides the source of "now"
func WithClock(clock func() time.Time) LedgerOption {
	return func(l *VersionLedger) { l.clock = clock }
}

// WithRetries sets how many times a conflicting write is redone
func WithRetries(retries int) LedgerOption {
	return func(l *VersionLedger) { l.retries = retries }
}

// WithLogger sets the ledger logger
func WithLogger(log *logger.Logger) LedgerOption {
	return func(l *VersionLedger) { l.log = log.With("component", "VersionLedger") }
}

// NewVersionLedger creates a ledger over the given store
func NewVersionLedger(store repositories.CompositionStore, opts ...LedgerOption) *VersionLedger {
	l := &VersionLedger{
		store:   store,
		clock:   time.Now,
		retries: DefaultVersionRetries,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time
func (l *VersionLedger) Now() time.Time {
	return l.clock()
}

// EdgesAt returns the active edges of a parent valid at the given instant
func (l *VersionLedger) EdgesAt(ctx context.Context, parentID entities.ProductID, at time.Time) ([]*entities.CompositionEdge, error) {
	return l.store.FetchEdgesValidAt(ctx, parentID, at)
}

// CreateNewVersion closes the current generation of parentID at cutoverAt
// (default now) and opens the next one with the given lines. Either all of it
// commits or none of it does. An empty lines slice records that the product
// currently has no components.
func (l *VersionLedger) CreateNewVersion(
	ctx context.Context,
	parentID entities.ProductID,
	lines []entities.LineInput,
	cutoverAt *time.Time,
) (*entities.VersionSnapshot, error) {
	if parentID == "" {
		return nil, &entities.ValidationError{Field: "parent_product_id", Reason: "cannot be empty"}
	}
	if err := validateLines(parentID, lines); err != nil {
		return nil, err
	}

	cutover := l.clock()
	if cutoverAt != nil {
		cutover = *cutoverAt
	}

	var snapshot *entities.VersionSnapshot
	err := l.withRetry(ctx, parentID, func() error {
		var err error
		snapshot, err = l.createVersionOnce(ctx, parentID, lines, cutover)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.VersionsCreatedTotal.Inc()
	l.log.Info("BOM version created",
		"parent_product_id", parentID,
		"version", snapshot.Version,
		"valid_from", snapshot.ValidFrom,
		"line_count", snapshot.LineCount,
	)
	return snapshot, nil
}

func (l *VersionLedger) createVersionOnce(
	ctx context.Context,
	parentID entities.ProductID,
	lines []entities.LineInput,
	cutover time.Time,
) (*entities.VersionSnapshot, error) {
	var snapshot *entities.VersionSnapshot

	err := l.store.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		current, err := tx.CurrentGeneration(ctx, parentID)
		if err != nil {
			return fmt.Errorf("failed to read current generation of %s: %w", parentID, err)
		}

		nextVersion := 1
		if current != nil {
			if !cutover.After(current.ValidFrom) {
				return &entities.ValidationError{
					Field: "cutover_at",
					Reason: fmt.Sprintf("must be after %s when version %d of %s took effect",
						current.ValidFrom.Format(time.RFC3339), current.Version, parentID),
				}
			}
			nextVersion = current.Version + 1
		}

		edges := make([]*entities.CompositionEdge, 0, len(lines))
		for _, line := range lines {
			edges = append(edges, &entities.CompositionEdge{
				ID:                uuid.New(),
				ParentProductID:   parentID,
				ChildProductID:    line.ChildProductID,
				QuantityPerParent: line.QuantityPerParent,
				Version:           nextVersion,
				ValidFrom:         cutover,
				Active:            true,
			})
		}

		if err := l.checkCycles(ctx, tx, parentID, childIDs(edges), cutover); err != nil {
			return err
		}

		if current != nil {
			existing, err := tx.FetchEdges(ctx, parentID, false)
			if err != nil {
				return fmt.Errorf("failed to fetch edges of %s: %w", parentID, err)
			}
			var openIDs []uuid.UUID
			for _, edge := range existing {
				if edge.IsOpen() {
					openIDs = append(openIDs, edge.ID)
				}
			}
			if err := tx.CloseEdges(ctx, openIDs, cutover); err != nil {
				return err
			}
			if err := tx.CloseGeneration(ctx, parentID, current.Version, cutover); err != nil {
				return err
			}
		}

		gen := &entities.Generation{ParentProductID: parentID, Version: nextVersion, ValidFrom: cutover}
		if err := tx.InsertGeneration(ctx, gen); err != nil {
			return err
		}
		if err := tx.InsertEdges(ctx, edges); err != nil {
			return err
		}

		snapshot = &entities.VersionSnapshot{
			ParentProductID: parentID,
			Version:         nextVersion,
			ValidFrom:       cutover,
			Lines:           edges,
			LineCount:       len(edges),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// AddLine adds one line to the current generation of parentID, opening
// version 1 when the parent has no BOM yet.
func (l *VersionLedger) AddLine(ctx context.Context, parentID entities.ProductID, line entities.LineInput) (*entities.CompositionEdge, error) {
	edge, err := entities.NewCompositionEdge(parentID, line.ChildProductID, line.QuantityPerParent)
	if err != nil {
		return nil, err
	}

	err = l.withRetry(ctx, parentID, func() error {
		return l.store.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
			now := l.clock()
			current, err := tx.CurrentGeneration(ctx, parentID)
			if err != nil {
				return fmt.Errorf("failed to read current generation of %s: %w", parentID, err)
			}
			if current == nil {
				current = &entities.Generation{ParentProductID: parentID, Version: 1, ValidFrom: now}
				if err := tx.InsertGeneration(ctx, current); err != nil {
					return err
				}
			}

			siblings, err := l.openLines(ctx, tx, parentID)
			if err != nil {
				return err
			}
			for _, sibling := range siblings {
				if sibling.ChildProductID == edge.ChildProductID {
					return duplicateChildError(parentID, edge.ChildProductID)
				}
			}

			if err := l.checkCycles(ctx, tx, parentID, append(childIDs(siblings), edge.ChildProductID), laterOf(now, current.ValidFrom)); err != nil {
				return err
			}

			edge.Version = current.Version
			edge.ValidFrom = current.ValidFrom
			edge.ValidTo = nil
			return tx.InsertEdges(ctx, []*entities.CompositionEdge{edge})
		})
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// UpdateLine changes the child and/or quantity of a line of a current generation.
// Lines of closed generations are immutable.
func (l *VersionLedger) UpdateLine(ctx context.Context, id uuid.UUID, update entities.LineUpdate) (*entities.CompositionEdge, error) {
	var updated *entities.CompositionEdge

	err := l.withRetry(ctx, "", func() error {
		return l.store.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
			edge, err := l.editableLine(ctx, tx, id)
			if err != nil {
				return err
			}

			childChanged := update.ChildProductID != nil && *update.ChildProductID != edge.ChildProductID
			if update.ChildProductID != nil {
				edge.ChildProductID = *update.ChildProductID
			}
			if update.QuantityPerParent != nil {
				edge.QuantityPerParent = *update.QuantityPerParent
			}
			if err := edge.ValidateLine(); err != nil {
				return err
			}

			if childChanged {
				siblings, err := l.openLines(ctx, tx, edge.ParentProductID)
				if err != nil {
					return err
				}
				children := make([]entities.ProductID, 0, len(siblings))
				for _, sibling := range siblings {
					if sibling.ID == edge.ID {
						continue
					}
					if sibling.ChildProductID == edge.ChildProductID {
						return duplicateChildError(edge.ParentProductID, edge.ChildProductID)
					}
					children = append(children, sibling.ChildProductID)
				}
				children = append(children, edge.ChildProductID)
				if err := l.checkCycles(ctx, tx, edge.ParentProductID, children, laterOf(l.clock(), edge.ValidFrom)); err != nil {
					return err
				}
			}

			if err := tx.UpdateEdge(ctx, edge); err != nil {
				return err
			}
			updated = edge
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveLine soft-deletes a line of a current generation. The version number is unchanged.
func (l *VersionLedger) RemoveLine(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error) {
	var removed *entities.CompositionEdge

	err := l.withRetry(ctx, "", func() error {
		return l.store.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
			edge, err := l.editableLine(ctx, tx, id)
			if err != nil {
				return err
			}
			edge.Active = false
			if err := tx.UpdateEdge(ctx, edge); err != nil {
				return err
			}
			removed = edge
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// GetVersionHistory returns every generation of parentID, newest first.
// A parent without a BOM has an empty history.
func (l *VersionLedger) GetVersionHistory(ctx context.Context, parentID entities.ProductID) ([]entities.VersionSummary, error) {
	gens, err := l.store.Generations(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch generations of %s: %w", parentID, err)
	}
	edges, err := l.store.FetchEdges(ctx, parentID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch edges of %s: %w", parentID, err)
	}

	lineCounts := make(map[int]int, len(gens))
	for _, edge := range edges {
		lineCounts[edge.Version]++
	}

	history := make([]entities.VersionSummary, 0, len(gens))
	for _, gen := range gens {
		history = append(history, entities.VersionSummary{
			Version:   gen.Version,
			ValidFrom: gen.ValidFrom,
			ValidTo:   gen.ValidTo,
			LineCount: lineCounts[gen.Version],
		})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Version > history[j].Version })
	return history, nil
}

// GetVersionAt returns the lines of the generation whose window contains date.
// Before the first generation the result is empty.
func (l *VersionLedger) GetVersionAt(ctx context.Context, parentID entities.ProductID, date time.Time) ([]*entities.CompositionEdge, error) {
	snapshot, err := l.SnapshotAt(ctx, parentID, date)
	if err != nil {
		return nil, err
	}
	return snapshot.Lines, nil
}

// GetCurrentVersion returns the generation in effect now with its line count
func (l *VersionLedger) GetCurrentVersion(ctx context.Context, parentID entities.ProductID) (*entities.VersionSnapshot, error) {
	return l.SnapshotAt(ctx, parentID, l.clock())
}

// SnapshotAt returns the generation containing date together with its active lines.
// When no generation contains date the snapshot has version 0 and no lines.
func (l *VersionLedger) SnapshotAt(ctx context.Context, parentID entities.ProductID, date time.Time) (*entities.VersionSnapshot, error) {
	snapshot := &entities.VersionSnapshot{
		ParentProductID: parentID,
		Lines:           []*entities.CompositionEdge{},
	}

	gens, err := l.store.Generations(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch generations of %s: %w", parentID, err)
	}
	var gen *entities.Generation
	for _, g := range gens {
		if g.Contains(date) {
			gen = g
			break
		}
	}
	if gen == nil {
		return snapshot, nil
	}

	edges, err := l.store.FetchEdgesValidAt(ctx, parentID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch edges of %s: %w", parentID, err)
	}

	snapshot.Version = gen.Version
	snapshot.ValidFrom = gen.ValidFrom
	snapshot.ValidTo = gen.ValidTo
	for _, edge := range edges {
		if edge.Version == gen.Version {
			snapshot.Lines = append(snapshot.Lines, edge)
		}
	}
	snapshot.LineCount = len(snapshot.Lines)
	return snapshot, nil
}

// withRetry redoes op while it fails with a version conflict, up to the configured retries
func (l *VersionLedger) withRetry(ctx context.Context, parentID entities.ProductID, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		var conflict *entities.VersionConflictError
		if !errors.As(err, &conflict) {
			return err
		}

		metrics.VersionConflictsTotal.Inc()
		if attempt >= l.retries {
			l.log.Warn("giving up after version conflicts",
				"parent_product_id", parentID, "version", conflict.Version, "attempts", attempt+1)
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.log.Debug("retrying after version conflict",
			"parent_product_id", parentID, "version", conflict.Version, "attempt", attempt+1)
	}
}

// checkCycles verifies that giving parentID exactly the given children, from
// the instant from onwards, keeps the graph acyclic. The graph is checked at
// from and again at every later instant where a generation reachable from
// the children takes effect, so backdated and future-dated versions are both
// covered.
func (l *VersionLedger) checkCycles(
	ctx context.Context,
	reader repositories.CompositionStore,
	parentID entities.ProductID,
	children []entities.ProductID,
	from time.Time,
) error {
	instants := []time.Time{from}
	queued := map[int64]bool{from.UnixNano(): true}
	scanned := map[entities.ProductID]bool{parentID: true}

	for i := 0; i < len(instants); i++ {
		at := instants[i]
		graph := services.CompositionGraph{}
		graph.ReplaceChildren(parentID, children)

		loaded := map[entities.ProductID]bool{parentID: true}
		queue := append([]entities.ProductID(nil), children...)
		for len(queue) > 0 {
			productID := queue[0]
			queue = queue[1:]
			if loaded[productID] {
				continue
			}
			loaded[productID] = true

			if !scanned[productID] {
				scanned[productID] = true
				gens, err := reader.Generations(ctx, productID)
				if err != nil {
					return fmt.Errorf("failed to fetch generations of %s: %w", productID, err)
				}
				for _, gen := range gens {
					if gen.ValidFrom.After(from) && !queued[gen.ValidFrom.UnixNano()] {
						queued[gen.ValidFrom.UnixNano()] = true
						instants = append(instants, gen.ValidFrom)
					}
				}
			}

			edges, err := reader.FetchEdgesValidAt(ctx, productID, at)
			if err != nil {
				return fmt.Errorf("failed to fetch edges of %s: %w", productID, err)
			}
			next := childIDs(edges)
			graph.ReplaceChildren(productID, next)
			queue = append(queue, next...)
		}

		for _, childID := range children {
			if err := services.CheckEdge(parentID, childID, graph); err != nil {
				metrics.CycleRejectionsTotal.Inc()
				l.log.Warn("rejected cyclic composition",
					"parent_product_id", parentID, "at", at, "error", err)
				return err
			}
		}
	}
	return nil
}

func (l *VersionLedger) openLines(ctx context.Context, tx repositories.CompositionStore, parentID entities.ProductID) ([]*entities.CompositionEdge, error) {
	edges, err := tx.FetchEdges(ctx, parentID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch edges of %s: %w", parentID, err)
	}
	open := make([]*entities.CompositionEdge, 0, len(edges))
	for _, edge := range edges {
		if edge.IsOpen() {
			open = append(open, edge)
		}
	}
	return open, nil
}

func (l *VersionLedger) editableLine(ctx context.Context, tx repositories.CompositionStore, id uuid.UUID) (*entities.CompositionEdge, error) {
	edge, err := tx.GetEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	if !edge.Active {
		return nil, &entities.NotFoundError{Kind: "composition line", ID: id.String()}
	}
	if !edge.IsOpen() {
		return nil, closedLineError(edge)
	}

	// locks the open generation against a concurrent cutover
	current, err := tx.CurrentGeneration(ctx, edge.ParentProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current generation of %s: %w", edge.ParentProductID, err)
	}
	if current == nil || current.Version != edge.Version {
		return nil, &entities.VersionConflictError{ParentProductID: edge.ParentProductID, Version: edge.Version}
	}
	return edge, nil
}

func closedLineError(edge *entities.CompositionEdge) error {
	return &entities.ValidationError{
		Field:  "id",
		Reason: fmt.Sprintf("line belongs to closed version %d of %s; create a new version instead", edge.Version, edge.ParentProductID),
	}
}

func validateLines(parentID entities.ProductID, lines []entities.LineInput) error {
	seen := make(map[entities.ProductID]bool, len(lines))
	for _, line := range lines {
		if _, err := entities.NewCompositionEdge(parentID, line.ChildProductID, line.QuantityPerParent); err != nil {
			return err
		}
		if seen[line.ChildProductID] {
			return duplicateChildError(parentID, line.ChildProductID)
		}
		seen[line.ChildProductID] = true
	}
	return nil
}

func duplicateChildError(parentID, childID entities.ProductID) error {
	return &entities.ValidationError{
		Field:  "child_product_id",
		Reason: fmt.Sprintf("%s already appears in the current version of %s", childID, parentID),
	}
}

func childIDs(edges []*entities.CompositionEdge) []entities.ProductID {
	ids := make([]entities.ProductID, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.ChildProductID)
	}
	return ids
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
