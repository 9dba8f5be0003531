package stock

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists the movement ledger in PostgreSQL. There is no update
// or delete path: the table only ever grows, and the on-hand balance is a
// sum over it rather than a stored number, so ledger and balance cannot
// drift apart.
type Repository struct {
	q querier
}

// NewRepository constructs a pool-backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// WithTx binds the repository to an ambient transaction so movement writes
// commit atomically with the caller's document writes.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{q: tx}
}

// Insert appends one ledger entry.
func (r *Repository) Insert(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO stock_movements (tenant_id, product_id, kind, qty, document_id, note, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		RETURNING id`,
		m.TenantID, m.ProductID, string(m.Kind), m.Qty, m.DocumentID, m.Note, nullableTime(m.OccurredAt)).Scan(&id)
	return id, err
}

// OnHand derives the current balance for a product as the signed sum over
// its movements.
func (r *Repository) OnHand(ctx context.Context, tenantID, productID int64) (float64, error) {
	var qty float64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'OUT' THEN -qty ELSE qty END), 0)
		FROM stock_movements
		WHERE tenant_id=$1 AND product_id=$2`, tenantID, productID).Scan(&qty)
	return qty, err
}

// ListByProduct returns the ledger for a product, oldest first.
func (r *Repository) ListByProduct(ctx context.Context, tenantID, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, tenant_id, product_id, kind, qty, document_id, note, occurred_at
		FROM stock_movements
		WHERE tenant_id=$1 AND product_id=$2
		ORDER BY occurred_at ASC, id ASC
		LIMIT $3`, tenantID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var kind string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ProductID, &kind, &m.Qty, &m.DocumentID, &m.Note, &m.OccurredAt); err != nil {
			return nil, err
		}
		m.Kind = MovementKind(kind)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListProducts returns the distinct product ids present in a tenant's
// ledger, used by the integrity job.
func (r *Repository) ListProducts(ctx context.Context, tenantID int64) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT product_id FROM stock_movements WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
