package sequence

import (
	"fmt"

	"github.com/gescom-erp/gescom/internal/shared"
)

// Template is a tenant's numbering format for one sequence name.
// Format supports the placeholders {YYYY} {YY} {MM} {DD} {SEQ}; Width is the
// zero-padding applied to {SEQ}.
type Template struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
}

// Counter is the persisted monotonic value behind one sequence.
type Counter struct {
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
	Value    int64  `json:"value"`
}

// ErrTemplateNotFound is returned when a sequence name has no configured
// template for the tenant. Silent substitution of another template is
// deliberately not performed; misconfigured numbering must fail loudly.
var ErrTemplateNotFound = fmt.Errorf("sequence: numbering template not configured: %w", shared.ErrValidation)
