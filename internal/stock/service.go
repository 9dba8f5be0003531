// Package stock keeps the per-product quantity ledger. The ledger is
// append-only; the on-hand balance is always derived from it.
package stock

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RepositoryPort abstracts ledger persistence for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, m Movement) (int64, error)
	OnHand(ctx context.Context, tenantID, productID int64) (float64, error)
	ListByProduct(ctx context.Context, tenantID, productID int64, limit int) ([]Movement, error)
}

// Service exposes ledger reads and manual adjustments. Document-driven
// movements (delivery OUT, receipt IN) are written by the conversion engine
// inside its own transaction, not through this service.
type Service struct {
	repo     RepositoryPort
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewService builds Service. cache may be nil; reads then always hit the
// ledger sum.
func NewService(repo RepositoryPort, cache *redis.Client, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{repo: repo, cache: cache, cacheTTL: cacheTTL}
}

func balanceKey(tenantID, productID int64) string {
	return fmt.Sprintf("stock:%d:%d:onhand", tenantID, productID)
}

// OnHand reports the current balance. The redis entry is a short-lived read
// cache over the ledger sum, never a second source of truth.
func (s *Service) OnHand(ctx context.Context, tenantID, productID int64) (float64, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, balanceKey(tenantID, productID)).Result(); err == nil {
			if qty, err := strconv.ParseFloat(cached, 64); err == nil {
				return qty, nil
			}
		}
	}

	qty, err := s.repo.OnHand(ctx, tenantID, productID)
	if err != nil {
		return 0, fmt.Errorf("stock: on-hand sum: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, balanceKey(tenantID, productID), strconv.FormatFloat(qty, 'f', -1, 64), s.cacheTTL)
	}
	return qty, nil
}

// Invalidate drops the cached balance after a ledger write.
func (s *Service) Invalidate(ctx context.Context, tenantID, productID int64) {
	if s.cache != nil {
		s.cache.Del(ctx, balanceKey(tenantID, productID))
	}
}

// PostAdjustment appends a manual ADJUST entry. Qty may be negative; zero is
// rejected.
func (s *Service) PostAdjustment(ctx context.Context, m Movement) (Movement, error) {
	if math.Abs(m.Qty) < 1e-9 {
		return Movement{}, ErrInvalidQuantity
	}
	m.Kind = MovementAdjust
	id, err := s.repo.Insert(ctx, m)
	if err != nil {
		return Movement{}, fmt.Errorf("stock: insert adjustment: %w", err)
	}
	m.ID = id
	s.Invalidate(ctx, m.TenantID, m.ProductID)
	return m, nil
}

// Ledger returns the movement history for a product.
func (s *Service) Ledger(ctx context.Context, tenantID, productID int64, limit int) ([]Movement, error) {
	return s.repo.ListByProduct(ctx, tenantID, productID, limit)
}
