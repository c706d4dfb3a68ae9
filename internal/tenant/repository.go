package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/store"
)

// Scanner is satisfied by both *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Entity is implemented by every tenant-owned domain type so the
// repository can verify a row being persisted belongs to the ambient
// tenant before it ever reaches SQL.
type Entity interface {
	GetTenantID() string
}

// Mapper describes how a Go type maps onto a tenant-owned table. Repository
// is generic over T so each domain package (finance, audit, outbox, ...)
// gets a concrete, type-safe repository without hand-writing CRUD SQL.
type Mapper[T Entity] struct {
	Table        string
	IDColumn     string   // e.g. "id"
	Columns      []string // full column list, in Scan order, including tenant_id and id
	Scan         func(s Scanner) (T, error)
	InsertValues func(t T) []any // one value per Columns entry, in order
	GetID        func(t T) string
}

// Repository is the tenant-aware repository base (spec §4.A): every
// method injects tenant_id = Require(ctx) into its predicate or persisted
// row, and refuses input whose tenant_id does not match the ambient
// context. It forbids find/update/delete calls lacking a tenant-scoped
// predicate by construction — there is no method that accepts a raw,
// unscoped WHERE clause.
type Repository[T Entity] struct {
	mapper Mapper[T]
}

// NewRepository constructs a repository for the given mapper.
func NewRepository[T Entity](m Mapper[T]) *Repository[T] {
	return &Repository[T]{mapper: m}
}

// Create inserts a row. Fails with Forbidden if t's tenant_id does not
// match the ambient context.
func (r *Repository[T]) Create(ctx context.Context, conn store.Conn, t T) error {
	tid, err := Require(ctx)
	if err != nil {
		return err
	}
	if t.GetTenantID() != tid {
		return apierr.Forbidden("repository: row tenant_id does not match ambient tenant context")
	}
	cols := r.mapper.Columns
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = store.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.mapper.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err = conn.ExecContext(ctx, query, r.mapper.InsertValues(t)...)
	return err
}

// QueryBuilder returns a Criteria pre-conditioned with
// "tenant_id = :tenant" as described in spec §4.A. Callers add further
// predicates with Where/Group; they can never remove the tenant predicate
// because it is injected here, not by the caller.
func (r *Repository[T]) QueryBuilder(ctx context.Context) (*Criteria, error) {
	tid, err := Require(ctx)
	if err != nil {
		return nil, err
	}
	return NewCriteria().Where("tenant_id", "=", tid), nil
}

func (r *Repository[T]) selectQuery(c *Criteria) (string, []any) {
	where, args := c.Render(1, store.Placeholder)
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(r.mapper.Columns, ", "), r.mapper.Table)
	if where != "" {
		q += " WHERE " + where
	}
	return q, args
}

// FindOne scopes criteria to the ambient tenant and returns the first
// matching row, or a NotFound error.
func (r *Repository[T]) FindOne(ctx context.Context, conn store.Conn, extra *Criteria) (T, error) {
	var zero T
	c, err := r.scoped(ctx, extra)
	if err != nil {
		return zero, err
	}
	query, args := r.selectQuery(c)
	query += " LIMIT 1"
	row := conn.QueryRowContext(ctx, query, args...)
	t, err := r.mapper.Scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return zero, apierr.NotFound("%s not found", r.mapper.Table)
		}
		return zero, err
	}
	return t, nil
}

// Find scopes criteria to the ambient tenant and returns all matches.
func (r *Repository[T]) Find(ctx context.Context, conn store.Conn, extra *Criteria) ([]T, error) {
	c, err := r.scoped(ctx, extra)
	if err != nil {
		return nil, err
	}
	query, args := r.selectQuery(c)
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		t, err := r.mapper.Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count scopes criteria to the ambient tenant and returns the row count.
func (r *Repository[T]) Count(ctx context.Context, conn store.Conn, extra *Criteria) (int64, error) {
	c, err := r.scoped(ctx, extra)
	if err != nil {
		return 0, err
	}
	where, args := c.Render(1, store.Placeholder)
	q := "SELECT COUNT(*) FROM " + r.mapper.Table
	if where != "" {
		q += " WHERE " + where
	}
	var n int64
	if err := conn.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RawSQL marks a sets value that Update must render as a literal SQL
// fragment rather than bind as a parameter — for expressions like now()
// that the database, not the driver, needs to evaluate.
type RawSQL string

// Update applies sets to the row matching (tenant_id, id). id is always
// combined with the ambient tenant predicate — there is no overload that
// accepts id alone.
func (r *Repository[T]) Update(ctx context.Context, conn store.Conn, id string, sets map[string]any) error {
	tid, err := Require(ctx)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	cols := make([]string, 0, len(sets))
	args := make([]any, 0, len(sets)+2)
	i := 1
	for col, val := range sets {
		if raw, ok := val.(RawSQL); ok {
			cols = append(cols, fmt.Sprintf("%s = %s", col, raw))
			continue
		}
		cols = append(cols, fmt.Sprintf("%s = %s", col, store.Placeholder(i)))
		args = append(args, val)
		i++
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE tenant_id = %s AND %s = %s",
		r.mapper.Table, strings.Join(cols, ", "), store.Placeholder(i), r.mapper.IDColumn, store.Placeholder(i+1))
	args = append(args, tid, id)
	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("%s %s not found in tenant", r.mapper.Table, id)
	}
	return nil
}

// SoftDelete marks the row (tenant_id, id) deleted via deleted_at = now().
func (r *Repository[T]) SoftDelete(ctx context.Context, conn store.Conn, id string) error {
	return r.Update(ctx, conn, id, map[string]any{"deleted_at": RawSQL("now()")})
}

func (r *Repository[T]) scoped(ctx context.Context, extra *Criteria) (*Criteria, error) {
	c, err := r.QueryBuilder(ctx)
	if err != nil {
		return nil, err
	}
	if extra != nil {
		c.clauses = append(c.clauses, extra.clauses...)
		c.args = append(c.args, extra.args...)
	}
	return c, nil
}
