package tenant

import (
	"github.com/gescom-erp/gescom/internal/fiscal"
)

// Settings is the per-tenant configuration the core consumes read-only.
// Numbering templates live in their own table keyed by sequence name (see
// internal/sequence); tax configuration is resolved here at computation time
// so successors are always priced with the current rules, not the source
// document's historical ones.
type Settings struct {
	TenantID int64            `json:"tenant_id"`
	Name     string           `json:"name"`
	Currency string           `json:"currency"`
	Tax      fiscal.TaxConfig `json:"tax"`
}
