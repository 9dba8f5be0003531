// Package catalog exposes the read-only product and party lookups the
// document core consumes. Reference-data CRUD lives elsewhere.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gescom-erp/gescom/internal/shared"
)

// Repository reads catalog data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct returns a product scoped to the tenant.
func (r *Repository) GetProduct(ctx context.Context, tenantID, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, sku, name, stock_unit, stocked
		FROM products WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(
		&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.StockUnit, &p.Stocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

// GetParty returns a customer or supplier scoped to the tenant.
func (r *Repository) GetParty(ctx context.Context, tenantID, id int64) (Party, error) {
	var p Party
	var kind string
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, kind, name
		FROM parties WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(
		&p.ID, &p.TenantID, &kind, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, fmt.Errorf("party %d: %w", id, shared.ErrNotFound)
		}
		return Party{}, err
	}
	p.Kind = PartyKind(kind)
	return p, nil
}
