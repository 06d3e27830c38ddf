package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

const edgeColumns = "id::text, parent_product_id, child_product_id, quantity_per_parent::text, version, valid_from, valid_to, active"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CompositionStore implements repositories.CompositionStore on PostgreSQL.
// Inside a transaction the current generation of a parent is read with
// SELECT ... FOR UPDATE, so concurrent version writers for one parent queue
// behind each other instead of racing.
type CompositionStore struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// NewCompositionStore creates a store on a connection pool
func NewCompositionStore(pool *pgxpool.Pool) *CompositionStore {
	return &CompositionStore{pool: pool, q: pool}
}

// Connect opens a connection pool and verifies it
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

var _ repositories.CompositionStore = (*CompositionStore)(nil)

// CreateTables creates the composition tables if they do not exist
func (s *CompositionStore) CreateTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS bom_generations (
			parent_product_id TEXT NOT NULL,
			version INTEGER NOT NULL CHECK (version >= 1),
			valid_from TIMESTAMPTZ NOT NULL,
			valid_to TIMESTAMPTZ,
			PRIMARY KEY (parent_product_id, version),
			CHECK (valid_to IS NULL OR valid_to > valid_from)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_bom_generations_open
			ON bom_generations (parent_product_id) WHERE valid_to IS NULL;

		CREATE TABLE IF NOT EXISTS bom_lines (
			id UUID PRIMARY KEY,
			parent_product_id TEXT NOT NULL,
			child_product_id TEXT NOT NULL,
			quantity_per_parent NUMERIC NOT NULL CHECK (quantity_per_parent > 0),
			version INTEGER NOT NULL,
			valid_from TIMESTAMPTZ NOT NULL,
			valid_to TIMESTAMPTZ,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			FOREIGN KEY (parent_product_id, version) REFERENCES bom_generations (parent_product_id, version),
			CHECK (parent_product_id <> child_product_id)
		);

		CREATE INDEX IF NOT EXISTS idx_bom_lines_parent ON bom_lines (parent_product_id, version, child_product_id);
		CREATE INDEX IF NOT EXISTS idx_bom_lines_child ON bom_lines (child_product_id);
	`

	if _, err := s.q.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *CompositionStore) FetchEdges(ctx context.Context, parentID entities.ProductID, activeOnly bool) ([]*entities.CompositionEdge, error) {
	query := "SELECT " + edgeColumns + " FROM bom_lines WHERE parent_product_id = $1"
	if activeOnly {
		query += " AND active"
	}
	query += " ORDER BY version, child_product_id, id"
	return s.queryEdges(ctx, query, string(parentID))
}

func (s *CompositionStore) FetchEdgesValidAt(ctx context.Context, parentID entities.ProductID, at time.Time) ([]*entities.CompositionEdge, error) {
	query := "SELECT " + edgeColumns + ` FROM bom_lines
		WHERE parent_product_id = $1 AND active
		  AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2)
		ORDER BY version, child_product_id, id`
	return s.queryEdges(ctx, query, string(parentID), at)
}

func (s *CompositionStore) GetEdge(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error) {
	edges, err := s.queryEdges(ctx, "SELECT "+edgeColumns+" FROM bom_lines WHERE id = $1", id.String())
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, &entities.NotFoundError{Kind: "composition line", ID: id.String()}
	}
	return edges[0], nil
}

func (s *CompositionStore) FindEdges(ctx context.Context, filter entities.EdgeFilter) ([]*entities.CompositionEdge, error) {
	query := "SELECT " + edgeColumns + " FROM bom_lines WHERE 1=1"
	args := make([]any, 0)
	argCount := 0

	if filter.ParentProductID != "" {
		argCount++
		query += fmt.Sprintf(" AND parent_product_id = $%d", argCount)
		args = append(args, string(filter.ParentProductID))
	}
	if filter.ChildProductID != "" {
		argCount++
		query += fmt.Sprintf(" AND child_product_id = $%d", argCount)
		args = append(args, string(filter.ChildProductID))
	}
	if filter.Version != 0 {
		argCount++
		query += fmt.Sprintf(" AND version = $%d", argCount)
		args = append(args, filter.Version)
	}
	if filter.ActiveOnly {
		query += " AND active"
	}
	if filter.OpenOnly {
		query += " AND valid_to IS NULL"
	}
	query += " ORDER BY parent_product_id, version, child_product_id, id"

	return s.queryEdges(ctx, query, args...)
}

func (s *CompositionStore) InsertEdges(ctx context.Context, edges []*entities.CompositionEdge) error {
	if len(edges) == 0 {
		return nil
	}
	for _, edge := range edges {
		if err := edge.Validate(); err != nil {
			return err
		}
	}

	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		q := tx.(*CompositionStore).q
		for _, edge := range edges {
			_, err := q.Exec(ctx,
				"INSERT INTO bom_lines (id, parent_product_id, child_product_id, quantity_per_parent, version, valid_from, valid_to, active) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)",
				edge.ID.String(),
				string(edge.ParentProductID),
				string(edge.ChildProductID),
				edge.QuantityPerParent.String(),
				edge.Version,
				edge.ValidFrom,
				edge.ValidTo,
				edge.Active,
			)
			if err != nil {
				return fmt.Errorf("failed to insert composition line %s: %w", edge.ID, err)
			}
		}
		return nil
	})
}

func (s *CompositionStore) CloseEdges(ctx context.Context, ids []uuid.UUID, validTo time.Time) error {
	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		store := tx.(*CompositionStore)
		for _, id := range ids {
			tag, err := store.q.Exec(ctx,
				"UPDATE bom_lines SET valid_to = $1 WHERE id = $2 AND valid_to IS NULL",
				validTo, id.String())
			if err != nil {
				return fmt.Errorf("failed to close composition line %s: %w", id, err)
			}
			if tag.RowsAffected() > 0 {
				continue
			}
			edge, err := store.GetEdge(ctx, id)
			if err != nil {
				return err
			}
			return &entities.VersionConflictError{ParentProductID: edge.ParentProductID, Version: edge.Version}
		}
		return nil
	})
}

func (s *CompositionStore) UpdateEdge(ctx context.Context, edge *entities.CompositionEdge) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE bom_lines SET child_product_id = $1, quantity_per_parent = $2::numeric, active = $3 WHERE id = $4 AND valid_to IS NULL",
		string(edge.ChildProductID), edge.QuantityPerParent.String(), edge.Active, edge.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update composition line %s: %w", edge.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// closed lines are immutable
	stored, err := s.GetEdge(ctx, edge.ID)
	if err != nil {
		return err
	}
	return &entities.VersionConflictError{ParentProductID: stored.ParentProductID, Version: stored.Version}
}

func (s *CompositionStore) CurrentGeneration(ctx context.Context, parentID entities.ProductID) (*entities.Generation, error) {
	query := "SELECT parent_product_id, version, valid_from, valid_to FROM bom_generations WHERE parent_product_id = $1 AND valid_to IS NULL"
	if s.inTx {
		query += " FOR UPDATE"
	}
	gens, err := s.queryGenerations(ctx, query, string(parentID))
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, nil
	}
	return gens[0], nil
}

func (s *CompositionStore) Generations(ctx context.Context, parentID entities.ProductID) ([]*entities.Generation, error) {
	return s.queryGenerations(ctx,
		"SELECT parent_product_id, version, valid_from, valid_to FROM bom_generations WHERE parent_product_id = $1 ORDER BY version",
		string(parentID))
}

func (s *CompositionStore) InsertGeneration(ctx context.Context, gen *entities.Generation) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO bom_generations (parent_product_id, version, valid_from, valid_to) VALUES ($1, $2, $3, $4)",
		string(gen.ParentProductID), gen.Version, gen.ValidFrom, gen.ValidTo)
	if isConflict(err) {
		return &entities.VersionConflictError{ParentProductID: gen.ParentProductID, Version: gen.Version}
	}
	if err != nil {
		return fmt.Errorf("failed to insert generation %d of %s: %w", gen.Version, gen.ParentProductID, err)
	}
	return nil
}

func (s *CompositionStore) CloseGeneration(ctx context.Context, parentID entities.ProductID, version int, validTo time.Time) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE bom_generations SET valid_to = $1 WHERE parent_product_id = $2 AND version = $3 AND valid_to IS NULL",
		validTo, string(parentID), version)
	if err != nil {
		return fmt.Errorf("failed to close generation %d of %s: %w", version, parentID, err)
	}
	if tag.RowsAffected() == 0 {
		return &entities.VersionConflictError{ParentProductID: parentID, Version: version}
	}
	return nil
}

// WithinTransaction runs fn inside a transaction. Nested calls join the
// enclosing transaction. Serialization failures surface as version conflicts
// so the ledger retries them.
func (s *CompositionStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.CompositionStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &CompositionStore{pool: s.pool, q: tx, inTx: true}); err != nil {
		if isConflict(err) {
			return &entities.VersionConflictError{}
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isConflict(err) {
			return &entities.VersionConflictError{}
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *CompositionStore) queryEdges(ctx context.Context, query string, args ...any) ([]*entities.CompositionEdge, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query composition lines: %w", err)
	}
	defer rows.Close()

	edges := make([]*entities.CompositionEdge, 0)
	for rows.Next() {
		var (
			id, parent, child, qty string
			version                int
			validFrom              time.Time
			validTo                *time.Time
			active                 bool
		)
		if err := rows.Scan(&id, &parent, &child, &qty, &version, &validFrom, &validTo, &active); err != nil {
			return nil, fmt.Errorf("failed to scan composition line: %w", err)
		}

		edgeID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid composition line id %q: %w", id, err)
		}
		quantity, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity %q on line %s: %w", qty, id, err)
		}

		edges = append(edges, &entities.CompositionEdge{
			ID:                edgeID,
			ParentProductID:   entities.ProductID(parent),
			ChildProductID:    entities.ProductID(child),
			QuantityPerParent: quantity,
			Version:           version,
			ValidFrom:         validFrom.UTC(),
			ValidTo:           utcPtr(validTo),
			Active:            active,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read composition lines: %w", err)
	}
	return edges, nil
}

func (s *CompositionStore) queryGenerations(ctx context.Context, query string, args ...any) ([]*entities.Generation, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	gens := make([]*entities.Generation, 0)
	for rows.Next() {
		var (
			parent    string
			version   int
			validFrom time.Time
			validTo   *time.Time
		)
		if err := rows.Scan(&parent, &version, &validFrom, &validTo); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		gens = append(gens, &entities.Generation{
			ParentProductID: entities.ProductID(parent),
			Version:         version,
			ValidFrom:       validFrom.UTC(),
			ValidTo:         utcPtr(validTo),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read generations: %w", err)
	}
	return gens, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case uniqueViolation, serializationFailure, deadlockDetected:
		return true
	}
	return false
}
