package bom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
	"github.com/vsinha/bomengine/pkg/infrastructure/events"
	"github.com/vsinha/bomengine/pkg/infrastructure/logger"
	"github.com/vsinha/bomengine/pkg/infrastructure/metrics"
)

// EngineConfig holds tuning for the BOM engine
type EngineConfig struct {
	MaxDepth       int
	VersionRetries int
	Clock          func() time.Time
}

// DefaultEngineConfig returns the default engine tuning
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxDepth:       DefaultMaxDepth,
		VersionRetries: DefaultVersionRetries,
		Clock:          time.Now,
	}
}

// Engine is the contract boundary of the BOM structural engine. It composes
// the version ledger, tree exploder and cost rollup and adds logging,
// metrics, tracing and domain events around them.
type Engine struct {
	store    repositories.CompositionStore
	costs    repositories.UnitCostRepository
	ledger   *VersionLedger
	exploder *TreeExploder
	events   events.EventStore
	log      *logger.Logger
	tracer   trace.Tracer
}

// NewEngine wires an engine. costs and eventStore may be nil: without a cost
// repository every exploded cost is incomplete, without an event store no
// events are published.
func NewEngine(
	store repositories.CompositionStore,
	costs repositories.UnitCostRepository,
	eventStore events.EventStore,
	log *logger.Logger,
	config EngineConfig,
) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	ledger := NewVersionLedger(store,
		WithClock(config.Clock),
		WithRetries(config.VersionRetries),
		WithLogger(log),
	)

	return &Engine{
		store:    store,
		costs:    costs,
		ledger:   ledger,
		exploder: NewTreeExploder(ledger, config.MaxDepth),
		events:   eventStore,
		log:      log.With("component", "BOMEngine"),
		tracer:   otel.Tracer("github.com/vsinha/bomengine/pkg/application/services/bom"),
	}
}

// Ledger exposes the version ledger backing the engine
func (e *Engine) Ledger() *VersionLedger {
	return e.ledger
}

// CreateLine adds a composition line to the current version of parentID
func (e *Engine) CreateLine(ctx context.Context, parentID entities.ProductID, line entities.LineInput) (_ *entities.CompositionEdge, err error) {
	ctx, span := e.startSpan(ctx, "bom.CreateLine", attribute.String("parent_product_id", string(parentID)))
	defer func() { endSpan(span, err) }()

	edge, err := e.ledger.AddLine(ctx, parentID, line)
	if err != nil {
		return nil, err
	}
	e.publish(events.NewBOMLineCreatedEvent(*edge, e.ledger.Now()))
	e.log.Debug("BOM line created", "id", edge.ID, "parent_product_id", parentID, "child_product_id", edge.ChildProductID)
	return edge, nil
}

// FindAll lists composition lines matching the filter
func (e *Engine) FindAll(ctx context.Context, filter entities.EdgeFilter) ([]*entities.CompositionEdge, error) {
	return e.store.FindEdges(ctx, filter)
}

// FindByID returns one composition line, soft-deleted or not
func (e *Engine) FindByID(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error) {
	return e.store.GetEdge(ctx, id)
}

// Update changes a line of a current version in place
func (e *Engine) Update(ctx context.Context, id uuid.UUID, update entities.LineUpdate) (_ *entities.CompositionEdge, err error) {
	ctx, span := e.startSpan(ctx, "bom.Update", attribute.String("line_id", id.String()))
	defer func() { endSpan(span, err) }()

	edge, err := e.ledger.UpdateLine(ctx, id, update)
	if err != nil {
		return nil, err
	}
	e.publish(events.NewBOMLineUpdatedEvent(*edge, e.ledger.Now()))
	return edge, nil
}

// SoftDelete deactivates a line without bumping the version
func (e *Engine) SoftDelete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := e.startSpan(ctx, "bom.SoftDelete", attribute.String("line_id", id.String()))
	defer func() { endSpan(span, err) }()

	edge, err := e.ledger.RemoveLine(ctx, id)
	if err != nil {
		return err
	}
	e.publish(events.NewBOMLineDeletedEvent(*edge, e.ledger.Now()))
	return nil
}

// BuildTree explodes rootID as of asOf (default now). A product with no BOM is a leaf.
func (e *Engine) BuildTree(ctx context.Context, rootID entities.ProductID, asOf *time.Time) (_ *entities.CompositionNode, err error) {
	ctx, span := e.startSpan(ctx, "bom.BuildTree", attribute.String("root_product_id", string(rootID)))
	defer func() { endSpan(span, err) }()

	return e.explode(ctx, rootID, e.resolveAsOf(asOf))
}

// CalculateExplodedCost explodes rootID and rolls up unit costs over the tree
func (e *Engine) CalculateExplodedCost(ctx context.Context, rootID entities.ProductID, asOf *time.Time) (_ *entities.CostedNode, err error) {
	ctx, span := e.startSpan(ctx, "bom.CalculateExplodedCost", attribute.String("root_product_id", string(rootID)))
	defer func() { endSpan(span, err) }()

	tree, err := e.explode(ctx, rootID, e.resolveAsOf(asOf))
	if err != nil {
		return nil, err
	}

	unitCosts := entities.UnitCosts{}
	if e.costs != nil {
		unitCosts, err = e.costs.GetUnitCosts(ctx, TreeProductIDs(tree))
		if err != nil {
			return nil, fmt.Errorf("failed to load unit costs: %w", err)
		}
	}

	costed := ComputeCost(tree, unitCosts)
	if costed.CostIncomplete {
		e.log.Debug("exploded cost is incomplete", "root_product_id", rootID)
	}
	return costed, nil
}

// CreateNewVersion closes the current version of parentID and opens the next one
func (e *Engine) CreateNewVersion(
	ctx context.Context,
	parentID entities.ProductID,
	lines []entities.LineInput,
	cutoverAt *time.Time,
) (_ *entities.VersionSnapshot, err error) {
	ctx, span := e.startSpan(ctx, "bom.CreateNewVersion",
		attribute.String("parent_product_id", string(parentID)),
		attribute.Int("line_count", len(lines)),
	)
	defer func() { endSpan(span, err) }()

	snapshot, err := e.ledger.CreateNewVersion(ctx, parentID, lines, cutoverAt)
	if err != nil {
		return nil, err
	}
	e.publish(events.NewBOMVersionCreatedEvent(snapshot, e.ledger.Now()))
	return snapshot, nil
}

// GetVersionHistory lists every version of parentID, newest first
func (e *Engine) GetVersionHistory(ctx context.Context, parentID entities.ProductID) ([]entities.VersionSummary, error) {
	return e.ledger.GetVersionHistory(ctx, parentID)
}

// GetVersionAt returns the lines of parentID in effect at date
func (e *Engine) GetVersionAt(ctx context.Context, parentID entities.ProductID, date time.Time) ([]*entities.CompositionEdge, error) {
	return e.ledger.GetVersionAt(ctx, parentID, date)
}

// GetCurrentVersion returns the version of parentID in effect now
func (e *Engine) GetCurrentVersion(ctx context.Context, parentID entities.ProductID) (*entities.VersionSnapshot, error) {
	return e.ledger.GetCurrentVersion(ctx, parentID)
}

func (e *Engine) explode(ctx context.Context, rootID entities.ProductID, asOf time.Time) (*entities.CompositionNode, error) {
	tree, err := e.exploder.Explode(ctx, rootID, asOf)
	if err != nil {
		metrics.ExplosionsTotal.WithLabelValues(explosionOutcome(err)).Inc()

		var corrupt *entities.CyclicTraversalError
		if errors.As(err, &corrupt) {
			e.log.Error("composition data contains a cycle", "root_product_id", rootID, "as_of", asOf, "path", corrupt.Path)
		}
		return nil, err
	}

	nodes := 0
	tree.Walk(func(*entities.CompositionNode) { nodes++ })
	metrics.ExplosionsTotal.WithLabelValues("ok").Inc()
	metrics.ExplodedNodes.Observe(float64(nodes))
	return tree, nil
}

func (e *Engine) resolveAsOf(asOf *time.Time) time.Time {
	if asOf != nil {
		return *asOf
	}
	return e.ledger.Now()
}

func (e *Engine) publish(event events.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.AppendEvent(event.StreamID(), event); err != nil {
		e.log.Warn("failed to publish event", "event_type", event.Type(), "error", err)
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func explosionOutcome(err error) string {
	var cycle *entities.CyclicTraversalError
	var depth *entities.MaxDepthExceededError
	switch {
	case errors.As(err, &cycle):
		return "cycle"
	case errors.As(err, &depth):
		return "max_depth"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
