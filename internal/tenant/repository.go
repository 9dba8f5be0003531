package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gescom-erp/gescom/internal/fiscal"
	"github.com/gescom-erp/gescom/internal/shared"
)

// Repository reads tenant settings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSettings loads a tenant's settings including its tax configuration.
func (r *Repository) GetSettings(ctx context.Context, tenantID int64) (Settings, error) {
	var (
		s               Settings
		fodecRate       string
		stampAmount     string
		withholdingRate string
		defaultTaxRate  string
		rounding        string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, name, currency,
		       fodec_rate::text, fodec_enabled,
		       stamp_amount::text, stamp_enabled,
		       withholding_rate::text, withholding_enabled,
		       default_tax_rate::text, rounding_mode, precision
		FROM tenant_settings WHERE tenant_id=$1`, tenantID).Scan(
		&s.TenantID, &s.Name, &s.Currency,
		&fodecRate, &s.Tax.FodecEnabled,
		&stampAmount, &s.Tax.StampEnabled,
		&withholdingRate, &s.Tax.WithholdingEnabled,
		&defaultTaxRate, &rounding, &s.Tax.Precision,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, fmt.Errorf("tenant %d: %w", tenantID, shared.ErrNotFound)
		}
		return Settings{}, err
	}

	if s.Tax.FodecRate, err = decimal.NewFromString(fodecRate); err != nil {
		return Settings{}, fmt.Errorf("tenant %d: parse fodec rate: %w", tenantID, err)
	}
	if s.Tax.StampAmount, err = decimal.NewFromString(stampAmount); err != nil {
		return Settings{}, fmt.Errorf("tenant %d: parse stamp amount: %w", tenantID, err)
	}
	if s.Tax.WithholdingRate, err = decimal.NewFromString(withholdingRate); err != nil {
		return Settings{}, fmt.Errorf("tenant %d: parse withholding rate: %w", tenantID, err)
	}
	if s.Tax.DefaultTaxRate, err = decimal.NewFromString(defaultTaxRate); err != nil {
		return Settings{}, fmt.Errorf("tenant %d: parse default tax rate: %w", tenantID, err)
	}

	switch fiscal.RoundingMode(rounding) {
	case fiscal.RoundingPerLine, fiscal.RoundingPerDocument:
		s.Tax.Rounding = fiscal.RoundingMode(rounding)
	default:
		return Settings{}, fmt.Errorf("tenant %d: unknown rounding mode %q: %w", tenantID, rounding, shared.ErrValidation)
	}

	return s, nil
}
