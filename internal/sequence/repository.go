package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so a repository can
// run against the pool or join a caller's transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists counters and reads numbering templates in PostgreSQL.
type Repository struct {
	q querier
}

// NewRepository constructs a pool-backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// WithTx returns a repository bound to the given transaction, so the counter
// increment commits or rolls back together with the caller's writes.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{q: tx}
}

// Increment atomically advances the counter and returns the new value. The
// row is created lazily on first use. The read-modify-write happens entirely
// store-side; concurrent callers can never observe the same value.
func (r *Repository) Increment(ctx context.Context, tenantID int64, name string) (int64, error) {
	var value int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO counters (tenant_id, name, value) VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, name) DO UPDATE SET value = counters.value + 1
		RETURNING value`, tenantID, name).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Current returns the last issued value without advancing, zero when the
// counter does not exist yet.
func (r *Repository) Current(ctx context.Context, tenantID int64, name string) (int64, error) {
	var value int64
	err := r.q.QueryRow(ctx, `SELECT value FROM counters WHERE tenant_id=$1 AND name=$2`, tenantID, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

// Reset sets a counter back to the given value. Administrative use only;
// normal operation never decreases a counter.
func (r *Repository) Reset(ctx context.Context, tenantID int64, name string, value int64) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO counters (tenant_id, name, value) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, name) DO UPDATE SET value = EXCLUDED.value`, tenantID, name, value)
	return err
}

// Template loads the tenant's numbering template for a sequence name.
func (r *Repository) Template(ctx context.Context, tenantID int64, name string) (Template, error) {
	var tpl Template
	err := r.q.QueryRow(ctx, `SELECT format, seq_width FROM numbering_templates WHERE tenant_id=$1 AND name=$2`, tenantID, name).Scan(&tpl.Format, &tpl.Width)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrTemplateNotFound
		}
		return Template{}, err
	}
	return tpl, nil
}
