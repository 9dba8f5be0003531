package uom

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the unit catalog. The catalog is reference data owned
// elsewhere; this module only ever reads it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUnits returns all units configured for a tenant.
func (r *Repository) ListUnits(ctx context.Context, tenantID int64) ([]UnitOfMeasure, error) {
	if r == nil {
		return nil, errors.New("uom repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT code, category, factor FROM units_of_measure WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []UnitOfMeasure
	for rows.Next() {
		var u UnitOfMeasure
		if err := rows.Scan(&u.Code, &u.Category, &u.Factor); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// ConverterFor loads the tenant catalog into a Converter.
func (r *Repository) ConverterFor(ctx context.Context, tenantID int64) (*Converter, error) {
	units, err := r.ListUnits(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return NewConverter(units), nil
}
