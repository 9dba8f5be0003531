package stock

import (
	"errors"
	"time"
)

// MovementKind enumerates ledger entry kinds.
type MovementKind string

const (
	// MovementIn records quantity entering stock (receipt notes).
	MovementIn MovementKind = "IN"
	// MovementOut records quantity leaving stock (delivery notes).
	MovementOut MovementKind = "OUT"
	// MovementAdjust records a manual correction, positive or negative.
	MovementAdjust MovementKind = "ADJUST"
)

// Movement is one immutable ledger entry. Entries are never updated or
// deleted; a mistake is compensated by a new offsetting entry. Qty is always
// expressed in the product's stock unit, normalized before persistence.
type Movement struct {
	ID         int64        `json:"id"`
	TenantID   int64        `json:"tenant_id"`
	ProductID  int64        `json:"product_id"`
	Kind       MovementKind `json:"kind"`
	Qty        float64      `json:"qty"`
	DocumentID *int64       `json:"document_id,omitempty"`
	Note       string       `json:"note,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Signed returns the quantity with its ledger sign applied.
func (m Movement) Signed() float64 {
	if m.Kind == MovementOut {
		return -m.Qty
	}
	return m.Qty
}

// ErrInvalidQuantity indicates a zero or wrongly signed movement quantity.
var ErrInvalidQuantity = errors.New("stock: invalid movement quantity")

// ErrUnknownKind indicates an unsupported movement kind.
var ErrUnknownKind = errors.New("stock: unknown movement kind")
