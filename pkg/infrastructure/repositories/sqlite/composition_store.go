package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
)

const edgeColumns = "id, parent_product_id, child_product_id, quantity_per_parent, version, valid_from, valid_to, active"

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// CompositionStore implements repositories.CompositionStore on SQLite.
// Timestamps are stored as Unix nanoseconds and quantities as decimal text.
type CompositionStore struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

// Open opens a SQLite database for the composition store. SQLite allows a
// single writer, so the pool is limited to one connection; this also keeps
// ":memory:" databases from splitting across connections.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite database: %w", err)
	}
	return db, nil
}

// NewCompositionStore creates a store on an open database
func NewCompositionStore(db *sql.DB) *CompositionStore {
	return &CompositionStore{db: db, q: db}
}

var _ repositories.CompositionStore = (*CompositionStore)(nil)

// CreateTables creates the composition tables if they do not exist
func (s *CompositionStore) CreateTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bom_generations (
			parent_product_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			valid_from INTEGER NOT NULL,
			valid_to INTEGER,
			PRIMARY KEY (parent_product_id, version)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bom_generations_open
			ON bom_generations (parent_product_id) WHERE valid_to IS NULL`,
		`CREATE TABLE IF NOT EXISTS bom_lines (
			id TEXT PRIMARY KEY,
			parent_product_id TEXT NOT NULL,
			child_product_id TEXT NOT NULL,
			quantity_per_parent TEXT NOT NULL,
			version INTEGER NOT NULL,
			valid_from INTEGER NOT NULL,
			valid_to INTEGER,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bom_lines_parent ON bom_lines (parent_product_id, version, child_product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bom_lines_child ON bom_lines (child_product_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (s *CompositionStore) FetchEdges(ctx context.Context, parentID entities.ProductID, activeOnly bool) ([]*entities.CompositionEdge, error) {
	query := "SELECT " + edgeColumns + " FROM bom_lines WHERE parent_product_id = ?"
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY version, child_product_id, id"
	return s.queryEdges(ctx, query, string(parentID))
}

func (s *CompositionStore) FetchEdgesValidAt(ctx context.Context, parentID entities.ProductID, at time.Time) ([]*entities.CompositionEdge, error) {
	query := "SELECT " + edgeColumns + ` FROM bom_lines
		WHERE parent_product_id = ? AND active = 1
		  AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY version, child_product_id, id`
	ts := at.UnixNano()
	return s.queryEdges(ctx, query, string(parentID), ts, ts)
}

func (s *CompositionStore) GetEdge(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error) {
	edges, err := s.queryEdges(ctx, "SELECT "+edgeColumns+" FROM bom_lines WHERE id = ?", id.String())
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
	args := make([]interface{}, 0)

	if filter.ParentProductID != "" {
		query += " AND parent_product_id = ?"
		args = append(args, string(filter.ParentProductID))
	}
	if filter.ChildProductID != "" {
		query += " AND child_product_id = ?"
		args = append(args, string(filter.ChildProductID))
	}
	if filter.Version != 0 {
		query += " AND version = ?"
		args = append(args, filter.Version)
	}
	if filter.ActiveOnly {
		query += " AND active = 1"
	}
	if filter.OpenOnly {
		query += " AND valid_to IS NULL"
	}
	query += " ORDER BY parent_product_id, version, child_product_id, id"

	return s.queryEdges(ctx, query, args...)
}

func (s *CompositionStore) InsertEdges(ctx context.Context, edges []*entities.CompositionEdge) error {
	return s.WithinTransaction(ctx, func(ctx context.Context, tx repositories.CompositionStore) error {
		q := tx.(*CompositionStore).q
		for _, edge := range edges {
			if err := edge.Validate(); err != nil {
				return err
			}
			_, err := q.ExecContext(ctx, "INSERT INTO bom_lines ("+edgeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
				edge.ID.String(),
				string(edge.ParentProductID),
				string(edge.ChildProductID),
				edge.QuantityPerParent.String(),
				edge.Version,
				edge.ValidFrom.UnixNano(),
				nullableNanos(edge.ValidTo),
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
			result, err := store.q.ExecContext(ctx,
				"UPDATE bom_lines SET valid_to = ? WHERE id = ? AND valid_to IS NULL",
				validTo.UnixNano(), id.String())
			if err != nil {
				return fmt.Errorf("failed to close composition line %s: %w", id, err)
			}
			if err := store.requireRow(ctx, result, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// requireRow turns a zero-row write to an open line into NotFound or VersionConflict
func (s *CompositionStore) requireRow(ctx context.Context, result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	edge, err := s.GetEdge(ctx, id)
	if err != nil {
		return err
	}
	return &entities.VersionConflictError{ParentProductID: edge.ParentProductID, Version: edge.Version}
}

func (s *CompositionStore) UpdateEdge(ctx context.Context, edge *entities.CompositionEdge) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE bom_lines SET child_product_id = ?, quantity_per_parent = ?, active = ? WHERE id = ? AND valid_to IS NULL",
		string(edge.ChildProductID), edge.QuantityPerParent.String(), edge.Active, edge.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update composition line %s: %w", edge.ID, err)
	}
	return s.requireRow(ctx, result, edge.ID)
}

func (s *CompositionStore) CurrentGeneration(ctx context.Context, parentID entities.ProductID) (*entities.Generation, error) {
	gens, err := s.queryGenerations(ctx,
		"SELECT parent_product_id, version, valid_from, valid_to FROM bom_generations WHERE parent_product_id = ? AND valid_to IS NULL",
		string(parentID))
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
		"SELECT parent_product_id, version, valid_from, valid_to FROM bom_generations WHERE parent_product_id = ? ORDER BY version",
		string(parentID))
}

func (s *CompositionStore) InsertGeneration(ctx context.Context, gen *entities.Generation) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO bom_generations (parent_product_id, version, valid_from, valid_to) VALUES (?, ?, ?, ?)",
		string(gen.ParentProductID), gen.Version, gen.ValidFrom.UnixNano(), nullableNanos(gen.ValidTo))
	if isConstraintViolation(err) {
		return &entities.VersionConflictError{ParentProductID: gen.ParentProductID, Version: gen.Version}
	}
	if err != nil {
		return fmt.Errorf("failed to insert generation %d of %s: %w", gen.Version, gen.ParentProductID, err)
	}
	return nil
}

func (s *CompositionStore) CloseGeneration(ctx context.Context, parentID entities.ProductID, version int, validTo time.Time) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE bom_generations SET valid_to = ? WHERE parent_product_id = ? AND version = ? AND valid_to IS NULL",
		validTo.UnixNano(), string(parentID), version)
	if err != nil {
		return fmt.Errorf("failed to close generation %d of %s: %w", version, parentID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &entities.VersionConflictError{ParentProductID: parentID, Version: version}
	}
	return nil
}

// WithinTransaction runs fn inside a database transaction. Nested calls join
// the enclosing transaction.
func (s *CompositionStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.CompositionStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, &CompositionStore{db: s.db, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *CompositionStore) queryEdges(ctx context.Context, query string, args ...interface{}) ([]*entities.CompositionEdge, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query composition lines: %w", err)
	}
	defer rows.Close()

	edges := make([]*entities.CompositionEdge, 0)
	for rows.Next() {
		var (
			id, parent, child, qty string
			version                int
			validFrom              int64
			validTo                sql.NullInt64
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
			ValidFrom:         fromNanos(validFrom),
			ValidTo:           fromNullNanos(validTo),
			Active:            active,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read composition lines: %w", err)
	}
	return edges, nil
}

func (s *CompositionStore) queryGenerations(ctx context.Context, query string, args ...interface{}) ([]*entities.Generation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	gens := make([]*entities.Generation, 0)
	for rows.Next() {
		var (
			parent    string
			version   int
			validFrom int64
			validTo   sql.NullInt64
		)
		if err := rows.Scan(&parent, &version, &validFrom, &validTo); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		gens = append(gens, &entities.Generation{
			ParentProductID: entities.ProductID(parent),
			Version:         version,
			ValidFrom:       fromNanos(validFrom),
			ValidTo:         fromNullNanos(validTo),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read generations: %w", err)
	}
	return gens, nil
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
