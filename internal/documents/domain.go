package documents

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gescom-erp/gescom/internal/fiscal"
	"github.com/gescom-erp/gescom/internal/shared"
)

// Type enumerates the commercial document kinds of the sales and
// procurement chains.
type Type string

const (
	TypeQuote              Type = "QUOTE"
	TypeSalesOrder         Type = "SALES_ORDER"
	TypeDeliveryNote       Type = "DELIVERY_NOTE"
	TypeInvoice            Type = "INVOICE"
	TypeCreditNote         Type = "CREDIT_NOTE"
	TypePurchaseOrder      Type = "PURCHASE_ORDER"
	TypeReceiptNote        Type = "RECEIPT_NOTE"
	TypePurchaseInvoice    Type = "PURCHASE_INVOICE"
	TypePurchaseCreditNote Type = "PURCHASE_CREDIT_NOTE"
)

// Valid reports whether t is a known document type.
func (t Type) Valid() bool {
	switch t {
	case TypeQuote, TypeSalesOrder, TypeDeliveryNote, TypeInvoice, TypeCreditNote,
		TypePurchaseOrder, TypeReceiptNote, TypePurchaseInvoice, TypePurchaseCreditNote:
		return true
	}
	return false
}

// SequenceName returns the numbering sequence for the type. One counter per
// tenant and type keeps numbers unique per (tenant, type).
func (t Type) SequenceName() string {
	return string(t)
}

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusValidated          Status = "VALIDATED"
	StatusPartiallyFulfilled Status = "PARTIALLY_FULFILLED"
	StatusFulfilled          Status = "FULFILLED"
	// StatusCancelled is terminal and irreversible; a cancelled document's
	// quantities never count toward fulfillment.
	StatusCancelled Status = "CANCELLED"
)

// AccumulatorKind selects which per-line fulfillment counter a conversion
// drives.
type AccumulatorKind string

const (
	AccDelivered AccumulatorKind = "DELIVERED"
	AccReceived  AccumulatorKind = "RECEIVED"
	AccInvoiced  AccumulatorKind = "INVOICED"
	// accNone marks whole-document conversions (quotes), which carry no
	// per-line counters.
	accNone AccumulatorKind = ""
)

// conversionTargets lists the permitted conversion edges and the
// accumulator each target drives on the source lines.
var conversionTargets = map[Type]map[Type]AccumulatorKind{
	TypeQuote:           {TypeSalesOrder: accNone},
	TypeSalesOrder:      {TypeDeliveryNote: AccDelivered, TypeInvoice: AccInvoiced},
	TypeDeliveryNote:    {TypeInvoice: AccInvoiced},
	TypeInvoice:         {TypeCreditNote: AccInvoiced},
	TypePurchaseOrder:   {TypeReceiptNote: AccReceived, TypePurchaseInvoice: AccInvoiced},
	TypeReceiptNote:     {TypePurchaseInvoice: AccInvoiced},
	TypePurchaseInvoice: {TypePurchaseCreditNote: AccInvoiced},
}

// Line is one ordered position of a document. ProductID is nil for service
// lines. The three fulfillment accumulators only ever increase, and only
// through the conversion engine.
type Line struct {
	ID              int64           `json:"id"`
	DocumentID      int64           `json:"document_id"`
	ProductID       *int64          `json:"product_id,omitempty"`
	Designation     string          `json:"designation"`
	UOM             string          `json:"uom"`
	Quantity        float64         `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
	QtyDelivered    float64         `json:"qty_delivered"`
	QtyReceived     float64         `json:"qty_received"`
	QtyInvoiced     float64         `json:"qty_invoiced"`
	SourceLineID    *int64          `json:"source_line_id,omitempty"`
	LineOrder       int             `json:"line_order"`
	Net             decimal.Decimal `json:"net"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
}

// Accumulator returns the counter value for the given kind.
func (l Line) Accumulator(kind AccumulatorKind) float64 {
	switch kind {
	case AccDelivered:
		return l.QtyDelivered
	case AccReceived:
		return l.QtyReceived
	case AccInvoiced:
		return l.QtyInvoiced
	}
	return 0
}

// Remaining returns the quantity not yet carried into successors for the
// given accumulator.
func (l Line) Remaining(kind AccumulatorKind) float64 {
	return l.Quantity - l.Accumulator(kind)
}

// Document is the central entity: a tenant-scoped commercial document with
// its ordered lines, computed totals and links to the documents it was
// derived from or gave rise to.
type Document struct {
	ID        int64                 `json:"id"`
	TenantID  int64                 `json:"tenant_id"`
	Type      Type                  `json:"type"`
	Number    string                `json:"number"`
	Status    Status                `json:"status"`
	PartyID   int64                 `json:"party_id"`
	PartyName string                `json:"party_name"`
	Currency  string                `json:"currency"`
	Totals    fiscal.DocumentTotals `json:"totals"`
	Notes     *string               `json:"notes,omitempty"`
	// LinkedDocuments holds ids of predecessors and successors alike;
	// traceability, not ownership.
	LinkedDocuments []int64   `json:"linked_documents,omitempty"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Lines           []Line    `json:"lines,omitempty"`
}

// Selection picks a source line and the quantity to carry forward.
type Selection struct {
	LineID   int64   `json:"line_id" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

// FulfillmentLine reports one line's conversion progress.
type FulfillmentLine struct {
	LineID       int64   `json:"line_id"`
	Quantity     float64 `json:"quantity"`
	QtyDelivered float64 `json:"qty_delivered"`
	QtyReceived  float64 `json:"qty_received"`
	QtyInvoiced  float64 `json:"qty_invoiced"`
}

var (
	// ErrInvalidStatus indicates an operation not allowed in the document's
	// current state.
	ErrInvalidStatus = fmt.Errorf("documents: invalid status for operation: %w", shared.ErrValidation)
	// ErrInvalidConversion indicates a target type the source cannot
	// convert into.
	ErrInvalidConversion = fmt.Errorf("documents: conversion not permitted for document type: %w", shared.ErrValidation)
	// ErrSourceCancelled indicates a conversion attempt against a cancelled
	// document.
	ErrSourceCancelled = fmt.Errorf("documents: source document is cancelled: %w", shared.ErrValidation)
	// ErrQuantityExceeded indicates a requested quantity above the line's
	// remaining unfulfilled quantity. Retryable after a re-fetch.
	ErrQuantityExceeded = fmt.Errorf("documents: requested quantity exceeds remaining: %w", shared.ErrConflict)
	// ErrLineNotFound indicates a selection referencing no source line.
	ErrLineNotFound = fmt.Errorf("documents: source line not found: %w", shared.ErrValidation)
	// ErrDuplicateNumber indicates a unique violation on (tenant, type,
	// number): a prior atomicity failure that demands manual reconciliation.
	ErrDuplicateNumber = fmt.Errorf("documents: duplicate document number: %w", shared.ErrInvariant)
	// ErrAccumulatorOverflow indicates an accumulator observed above its
	// line quantity.
	ErrAccumulatorOverflow = fmt.Errorf("documents: accumulator exceeds line quantity: %w", shared.ErrInvariant)
)

// ErrNotFound re-exported for handler convenience.
var ErrNotFound = shared.ErrNotFound

// targetAccumulator resolves the conversion edge, or fails when the edge is
// not permitted.
func targetAccumulator(source, target Type) (AccumulatorKind, error) {
	targets, ok := conversionTargets[source]
	if !ok {
		return accNone, fmt.Errorf("%w: %s has no conversion targets", ErrInvalidConversion, source)
	}
	kind, ok := targets[target]
	if !ok {
		return accNone, fmt.Errorf("%w: %s -> %s", ErrInvalidConversion, source, target)
	}
	return kind, nil
}

// qtyEpsilon absorbs float representation noise in quantity comparisons.
const qtyEpsilon = 1e-9

var errNoLines = errors.New("documents: document requires at least one line")
