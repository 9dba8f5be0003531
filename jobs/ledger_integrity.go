package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gescom-erp/gescom/internal/stock"
)

// LedgerIntegrityJob re-derives every cached on-hand balance from the
// movement ledger and reports drift. The ledger sum is authoritative, so
// drift here means a stale cache entry survived past its TTL or a write
// path skipped invalidation.
type LedgerIntegrityJob struct {
	pool   *pgxpool.Pool
	ledger *stock.Repository
	stocks *stock.Service
	logger *slog.Logger
}

// NewLedgerIntegrityJob constructs the job.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, stocks *stock.Service, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		pool:   pool,
		ledger: stock.NewRepository(pool),
		stocks: stocks,
		logger: logger,
	}
}

// Handle processes a TaskLedgerIntegrity task.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tenants, err := j.tenantIDs(ctx, payload.TenantID)
	if err != nil {
		return err
	}

	var scanned, drifted int
	for _, tenantID := range tenants {
		products, err := j.ledger.ListProducts(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, productID := range products {
			derived, err := j.ledger.OnHand(ctx, tenantID, productID)
			if err != nil {
				return err
			}
			cached, err := j.stocks.OnHand(ctx, tenantID, productID)
			if err != nil {
				return err
			}
			scanned++
			if math.Abs(derived-cached) > 1e-9 {
				drifted++
				j.logger.Warn("on-hand cache drift",
					slog.Int64("tenant_id", tenantID),
					slog.Int64("product_id", productID),
					slog.Float64("derived", derived),
					slog.Float64("cached", cached))
				j.stocks.Invalidate(ctx, tenantID, productID)
			}
		}
	}

	j.logger.Info("ledger integrity scan finished",
		slog.Int("products", scanned), slog.Int("drifted", drifted))
	return nil
}

func (j *LedgerIntegrityJob) tenantIDs(ctx context.Context, only int64) ([]int64, error) {
	if only > 0 {
		return []int64{only}, nil
	}
	rows, err := j.pool.Query(ctx, `SELECT tenant_id FROM tenant_settings ORDER BY tenant_id`)
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
