// Package sequence issues collision-free, human-readable document numbers
// per tenant and sequence name. All coordination is pushed down to the
// store's atomic increment, so correctness holds across concurrent process
// instances.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gescom-erp/gescom/internal/shared"
)

// Store abstracts counter persistence and template lookup.
type Store interface {
	Increment(ctx context.Context, tenantID int64, name string) (int64, error)
	Current(ctx context.Context, tenantID int64, name string) (int64, error)
	Template(ctx context.Context, tenantID int64, name string) (Template, error)
}

// Service renders sequence numbers against tenant templates.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs the generator.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides wall-clock time, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Next mints the next formatted number for (tenant, name). Once returned, a
// number is never issued again. A call that errors after the increment
// committed burns that value; gaps are fiscally harmless where duplicates
// are not, so gaps are accepted rather than compensated.
func (s *Service) Next(ctx context.Context, tenantID int64, name string) (string, error) {
	tpl, err := s.store.Template(ctx, tenantID, name)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return "", fmt.Errorf("%w: %s", err, name)
		}
		return "", fmt.Errorf("sequence: load template %s: %w: %v", name, shared.ErrTransient, err)
	}

	value, err := s.store.Increment(ctx, tenantID, name)
	if err != nil {
		return "", fmt.Errorf("sequence: increment %s: %w: %v", name, shared.ErrTransient, err)
	}

	return Render(tpl, value, s.now()), nil
}

// Preview renders what the next number would look like without advancing the
// counter. For display only; a preview is not a reservation and another
// caller may claim the value first.
func (s *Service) Preview(ctx context.Context, tenantID int64, name string) (string, error) {
	tpl, err := s.store.Template(ctx, tenantID, name)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return "", fmt.Errorf("%w: %s", err, name)
		}
		return "", fmt.Errorf("sequence: load template %s: %w: %v", name, shared.ErrTransient, err)
	}

	current, err := s.store.Current(ctx, tenantID, name)
	if err != nil {
		return "", fmt.Errorf("sequence: read counter %s: %w: %v", name, shared.ErrTransient, err)
	}

	return Render(tpl, current+1, s.now()), nil
}
