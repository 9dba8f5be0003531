// Package documents implements the commercial document chain: creation,
// validation, cancellation and the conversion engine that derives successor
// documents while tracking per-line fulfillment.
package documents

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gescom-erp/gescom/internal/catalog"
	"github.com/gescom-erp/gescom/internal/fiscal"
	"github.com/gescom-erp/gescom/internal/shared"
	"github.com/gescom-erp/gescom/internal/stock"
	"github.com/gescom-erp/gescom/internal/tenant"
	"github.com/gescom-erp/gescom/internal/uom"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, tenantID, id int64) (*Document, error)
	ListDocuments(ctx context.Context, req ListRequest) ([]Document, error)
}

// SettingsPort reads tenant configuration.
type SettingsPort interface {
	GetSettings(ctx context.Context, tenantID int64) (tenant.Settings, error)
}

// CatalogPort reads products and parties.
type CatalogPort interface {
	GetProduct(ctx context.Context, tenantID, id int64) (catalog.Product, error)
	GetParty(ctx context.Context, tenantID, id int64) (catalog.Party, error)
}

// UnitsPort loads the tenant's unit converter.
type UnitsPort interface {
	ConverterFor(ctx context.Context, tenantID int64) (*uom.Converter, error)
}

// AuditPort records document mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// BalanceInvalidator drops cached on-hand balances after ledger writes.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, tenantID, productID int64)
}

// Service coordinates document operations.
type Service struct {
	repo     RepositoryPort
	settings SettingsPort
	catalog  CatalogPort
	units    UnitsPort
	audit    AuditPort
	balances BalanceInvalidator
}

// NewService constructs the service. audit and balances may be nil.
func NewService(repo RepositoryPort, settings SettingsPort, cat CatalogPort, units UnitsPort, audit AuditPort, balances BalanceInvalidator) *Service {
	return &Service{repo: repo, settings: settings, catalog: cat, units: units, audit: audit, balances: balances}
}

// CreateLineRequest describes one line of a new document.
type CreateLineRequest struct {
	ProductID       *int64           `json:"product_id,omitempty" validate:"omitempty,gt=0"`
	Designation     string           `json:"designation" validate:"required,max=200"`
	UOM             string           `json:"uom" validate:"required,max=20"`
	Quantity        float64          `json:"quantity" validate:"required,gt=0"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TaxPercent      *decimal.Decimal `json:"tax_percent,omitempty"`
	LineOrder       int              `json:"line_order" validate:"gte=0"`
}

// CreateDocumentRequest describes a document created by direct entry.
type CreateDocumentRequest struct {
	Type    Type                `json:"type" validate:"required"`
	PartyID int64               `json:"party_id" validate:"required,gt=0"`
	Notes   *string             `json:"notes,omitempty"`
	Lines   []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// Create persists a new draft document, minting its number and computing
// totals from the tenant's current tax configuration.
func (s *Service) Create(ctx context.Context, tenantID int64, req CreateDocumentRequest, createdBy int64) (*Document, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("documents: unknown type %q: %w", req.Type, shared.ErrValidation)
	}

	party, err := s.catalog.GetParty(ctx, tenantID, req.PartyID)
	if err != nil {
		return nil, fmt.Errorf("documents: resolve party: %w", err)
	}

	settings, err := s.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("documents: load settings: %w", err)
	}

	lines, result, err := s.buildLines(req.Lines, settings)
	if err != nil {
		return nil, err
	}

	doc := Document{
		TenantID:  tenantID,
		Type:      req.Type,
		Status:    StatusDraft,
		PartyID:   party.ID,
		PartyName: party.Name,
		Currency:  settings.Currency,
		Totals:    result.Document,
		Notes:     req.Notes,
		CreatedBy: createdBy,
	}

	var docID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, tenantID, req.Type.SequenceName())
		if err != nil {
			return err
		}
		doc.Number = number

		docID, err = tx.InsertDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		for i := range lines {
			lines[i].DocumentID = docID
			if _, err := tx.InsertLine(ctx, lines[i]); err != nil {
				return fmt.Errorf("insert line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, tenantID, createdBy, "DOC_CREATE", docID, map[string]any{"type": doc.Type, "number": doc.Number})
	return s.repo.GetDocument(ctx, tenantID, docID)
}

// buildLines turns line requests into domain lines priced by one Compute
// pass over the whole set.
func (s *Service) buildLines(reqs []CreateLineRequest, settings tenant.Settings) ([]Line, fiscal.Result, error) {
	if len(reqs) == 0 {
		return nil, fiscal.Result{}, fmt.Errorf("%v: %w", errNoLines, shared.ErrValidation)
	}

	fiscalLines := make([]fiscal.Line, 0, len(reqs))
	lines := make([]Line, 0, len(reqs))
	for i, lr := range reqs {
		taxPct := settings.Tax.DefaultTaxRate
		if lr.TaxPercent != nil {
			taxPct = *lr.TaxPercent
		}
		fiscalLines = append(fiscalLines, fiscal.Line{
			Quantity:        lr.Quantity,
			UnitPrice:       lr.UnitPrice,
			DiscountPercent: lr.DiscountPercent,
			TaxPercent:      taxPct,
		})
		line := Line{
			ProductID:       lr.ProductID,
			Designation:     lr.Designation,
			UOM:             lr.UOM,
			Quantity:        lr.Quantity,
			UnitPrice:       lr.UnitPrice,
			DiscountPercent: lr.DiscountPercent,
			TaxPercent:      taxPct,
			LineOrder:       lr.LineOrder,
		}
		if line.LineOrder == 0 {
			line.LineOrder = i + 1
		}
		lines = append(lines, line)
	}

	result, err := fiscal.Compute(fiscalLines, settings.Tax)
	if err != nil {
		return nil, fiscal.Result{}, err
	}
	for i := range lines {
		lines[i].Net = result.Lines[i].Net
		lines[i].Tax = result.Lines[i].Tax
		lines[i].Total = result.Lines[i].Total
	}
	return lines, result, nil
}

// UpdateLines replaces a draft document's lines and recomputes totals.
func (s *Service) UpdateLines(ctx context.Context, tenantID, id int64, reqs []CreateLineRequest, actorID int64) (*Document, error) {
	settings, err := s.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("documents: load settings: %w", err)
	}

	lines, result, err := s.buildLines(reqs, settings)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return fmt.Errorf("%w: only DRAFT documents can be edited", ErrInvalidStatus)
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		for i := range lines {
			lines[i].DocumentID = id
			if _, err := tx.InsertLine(ctx, lines[i]); err != nil {
				return fmt.Errorf("insert line: %w", err)
			}
		}
		return tx.UpdateDocumentTotals(ctx, id, result.Document)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, tenantID, actorID, "DOC_UPDATE_LINES", id, nil)
	return s.repo.GetDocument(ctx, tenantID, id)
}

// Validate transitions a draft to VALIDATED once business rules hold, and
// for delivery/receipt notes writes the stock movements in the same atomic
// unit.
func (s *Service) Validate(ctx context.Context, tenantID, id int64, actorID int64) (*Document, error) {
	touched, err := s.validateTx(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	s.invalidateBalances(ctx, tenantID, touched)
	s.recordAudit(ctx, tenantID, actorID, "DOC_VALIDATE", id, nil)
	return s.repo.GetDocument(ctx, tenantID, id)
}

func (s *Service) validateTx(ctx context.Context, tenantID, id int64) ([]int64, error) {
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return fmt.Errorf("%w: only DRAFT documents can be validated", ErrInvalidStatus)
		}
		if len(doc.Lines) == 0 {
			return fmt.Errorf("%v: %w", errNoLines, shared.ErrValidation)
		}
		for _, line := range doc.Lines {
			if line.Quantity <= 0 {
				return fmt.Errorf("documents: line %d: quantity must be > 0: %w", line.ID, shared.ErrValidation)
			}
		}

		touched, err = s.emitMovements(ctx, tx, doc, false)
		if err != nil {
			return err
		}
		return tx.UpdateDocumentStatus(ctx, id, StatusValidated)
	})
	if err != nil {
		return nil, err
	}
	return touched, nil
}

// Cancel terminally cancels a document. Ledger entries already written for
// a validated delivery/receipt note are compensated by offsetting entries,
// never deleted.
func (s *Service) Cancel(ctx context.Context, tenantID, id int64, actorID int64, reason string) (*Document, error) {
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		switch doc.Status {
		case StatusCancelled:
			return fmt.Errorf("%w: document already cancelled", ErrInvalidStatus)
		case StatusFulfilled:
			return fmt.Errorf("%w: fulfilled documents cannot be cancelled", ErrInvalidStatus)
		}

		if doc.Status != StatusDraft {
			touched, err = s.emitMovements(ctx, tx, doc, true)
			if err != nil {
				return err
			}
		}
		return tx.UpdateDocumentStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBalances(ctx, tenantID, touched)
	s.recordAudit(ctx, tenantID, actorID, "DOC_CANCEL", id, map[string]any{"reason": reason})
	return s.repo.GetDocument(ctx, tenantID, id)
}

// emitMovements writes the ledger entries a delivery or receipt note
// implies: OUT for deliveries, IN for receipts, inverted when compensating
// a cancellation. Quantities are normalized to each product's stock unit;
// service lines and non-stocked products produce no entries. Returns the
// product ids whose balances changed.
func (s *Service) emitMovements(ctx context.Context, tx TxRepository, doc *Document, compensate bool) ([]int64, error) {
	var kind stock.MovementKind
	switch doc.Type {
	case TypeDeliveryNote:
		kind = stock.MovementOut
	case TypeReceiptNote:
		kind = stock.MovementIn
	default:
		return nil, nil
	}
	if compensate {
		if kind == stock.MovementOut {
			kind = stock.MovementIn
		} else {
			kind = stock.MovementOut
		}
	}

	converter, err := s.units.ConverterFor(ctx, doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("documents: load units: %w", err)
	}

	note := string(doc.Type) + " " + doc.Number
	if compensate {
		note += " cancellation"
	}

	var touched []int64
	for _, line := range doc.Lines {
		if line.ProductID == nil {
			continue
		}
		product, err := s.catalog.GetProduct(ctx, doc.TenantID, *line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("documents: resolve product %d: %w", *line.ProductID, err)
		}
		if !product.Stocked {
			continue
		}
		qty, err := converter.Normalize(line.Quantity, line.UOM, product.StockUnit)
		if err != nil {
			return nil, fmt.Errorf("documents: normalize line %d: %w: %v", line.ID, shared.ErrValidation, err)
		}
		docID := doc.ID
		_, err = tx.InsertMovement(ctx, stock.Movement{
			TenantID:   doc.TenantID,
			ProductID:  product.ID,
			Kind:       kind,
			Qty:        qty,
			DocumentID: &docID,
			Note:       note,
		})
		if err != nil {
			return nil, fmt.Errorf("documents: insert movement: %w", err)
		}
		touched = append(touched, product.ID)
	}
	return touched, nil
}

func (s *Service) invalidateBalances(ctx context.Context, tenantID int64, productIDs []int64) {
	if s.balances == nil {
		return
	}
	for _, id := range productIDs {
		s.balances.Invalidate(ctx, tenantID, id)
	}
}

// Get returns a document with lines and links.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (*Document, error) {
	return s.repo.GetDocument(ctx, tenantID, id)
}

// List returns filtered document headers.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Document, error) {
	return s.repo.ListDocuments(ctx, req)
}

// Fulfillment reports per-line conversion progress for a document.
func (s *Service) Fulfillment(ctx context.Context, tenantID, id int64) ([]FulfillmentLine, error) {
	doc, err := s.repo.GetDocument(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	state := make([]FulfillmentLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		state = append(state, FulfillmentLine{
			LineID:       line.ID,
			Quantity:     line.Quantity,
			QtyDelivered: line.QtyDelivered,
			QtyReceived:  line.QtyReceived,
			QtyInvoiced:  line.QtyInvoiced,
		})
	}
	return state, nil
}

// PreviewTotals runs the fiscal cascade over prospective lines without
// persisting anything, for edit screens.
func (s *Service) PreviewTotals(ctx context.Context, tenantID int64, reqs []CreateLineRequest) (fiscal.Result, error) {
	settings, err := s.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return fiscal.Result{}, fmt.Errorf("documents: load settings: %w", err)
	}
	_, result, err := s.buildLines(reqs, settings)
	if err != nil {
		return fiscal.Result{}, err
	}
	return result, nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, docID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", docID),
		Meta:     meta,
	})
}
