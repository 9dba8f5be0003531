package documents

import (
	"context"
	"fmt"

	"github.com/gescom-erp/gescom/internal/fiscal"
	"github.com/gescom-erp/gescom/internal/shared"
	"github.com/gescom-erp/gescom/internal/tenant"
)

// idempotencyModule scopes conversion keys in the shared key table.
const idempotencyModule = "documents.convert"

// ConvertRequest asks for a successor document derived from a source.
// Selections are optional for quote conversions, which always carry the
// whole document; every other edge requires at least one selection.
// IdempotencyKey comes from the Idempotency-Key header, not the body; when
// set, the key is claimed inside the conversion transaction so it commits
// or rolls back together with the successor.
type ConvertRequest struct {
	SourceID       int64       `json:"source_id" validate:"required,gt=0"`
	TargetType     Type        `json:"target_type" validate:"required"`
	Selections     []Selection `json:"selections" validate:"omitempty,dive"`
	IdempotencyKey string      `json:"-"`
}

// ConvertResult carries the new successor and the re-read source whose
// status and accumulators the conversion advanced.
type ConvertResult struct {
	Document *Document `json:"document"`
	Source   *Document `json:"source"`
}

// Convert derives a successor document from a source inside one atomic
// unit: number minting, successor creation, accumulator increments, source
// status recomputation, linking, and (for delivery/receipt targets) stock
// movements all commit or roll back together. Successors are priced with
// the tenant's tax configuration at conversion time, not the source's.
func (s *Service) Convert(ctx context.Context, tenantID int64, req ConvertRequest, actorID int64) (*ConvertResult, error) {
	if !req.TargetType.Valid() {
		return nil, fmt.Errorf("documents: unknown type %q: %w", req.TargetType, shared.ErrValidation)
	}
	settings, err := s.settings.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("documents: load settings: %w", err)
	}

	var (
		successorID int64
		touched     []int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if req.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, tenantID, req.IdempotencyKey, idempotencyModule); err != nil {
				return err
			}
		}

		src, err := tx.GetDocumentForUpdate(ctx, tenantID, req.SourceID)
		if err != nil {
			return err
		}

		kind, err := targetAccumulator(src.Type, req.TargetType)
		if err != nil {
			return err
		}
		if err := checkSourceStatus(src, kind); err != nil {
			return err
		}

		selections, err := resolveSelections(src, req.Selections, kind)
		if err != nil {
			return err
		}

		number, err := tx.NextNumber(ctx, tenantID, req.TargetType.SequenceName())
		if err != nil {
			return err
		}

		successor, lines, err := buildSuccessor(src, req.TargetType, number, selections, settings, actorID)
		if err != nil {
			return err
		}

		successorID, err = tx.InsertDocument(ctx, *successor)
		if err != nil {
			return err
		}
		for i := range lines {
			lines[i].DocumentID = successorID
			if _, err := tx.InsertLine(ctx, lines[i]); err != nil {
				return fmt.Errorf("documents: insert line: %w", err)
			}
		}

		if err := advanceSource(ctx, tx, src, selections, kind); err != nil {
			return err
		}

		if err := tx.InsertLink(ctx, src.ID, successorID); err != nil {
			return fmt.Errorf("documents: insert link: %w", err)
		}

		successor.ID = successorID
		successor.Lines = lines
		touched, err = s.emitMovements(ctx, tx, successor, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBalances(ctx, tenantID, touched)
	s.recordAudit(ctx, tenantID, actorID, "DOC_CONVERT", successorID, map[string]any{
		"source_id": req.SourceID, "target_type": req.TargetType,
	})

	doc, err := s.repo.GetDocument(ctx, tenantID, successorID)
	if err != nil {
		return nil, err
	}
	source, err := s.repo.GetDocument(ctx, tenantID, req.SourceID)
	if err != nil {
		return nil, err
	}
	return &ConvertResult{Document: doc, Source: source}, nil
}

// checkSourceStatus rejects sources that cannot be converted in their
// current state. Fulfilled quotes are done; fulfilled documents on
// accumulator edges fall through and fail on remaining quantity instead,
// which reports the offending line.
func checkSourceStatus(src *Document, kind AccumulatorKind) error {
	switch src.Status {
	case StatusCancelled:
		return ErrSourceCancelled
	case StatusDraft:
		return fmt.Errorf("%w: source must be validated before conversion", ErrInvalidStatus)
	}
	if kind == accNone && src.Status == StatusFulfilled {
		return fmt.Errorf("%w: quote already converted", ErrInvalidStatus)
	}
	return nil
}

// resolveSelections validates requested selections against the source
// lines, or expands to the full document for quote conversions when none
// were given. Pre-checks remaining quantities so a doomed conversion fails
// with a precise error before any write; the transactional guard in the
// accumulator update remains authoritative under concurrency.
func resolveSelections(src *Document, requested []Selection, kind AccumulatorKind) ([]Selection, error) {
	if len(requested) == 0 {
		if kind != accNone {
			return nil, fmt.Errorf("documents: at least one selection required: %w", shared.ErrValidation)
		}
		selections := make([]Selection, 0, len(src.Lines))
		for _, line := range src.Lines {
			selections = append(selections, Selection{LineID: line.ID, Quantity: line.Quantity})
		}
		if len(selections) == 0 {
			return nil, fmt.Errorf("%v: %w", errNoLines, shared.ErrValidation)
		}
		return selections, nil
	}

	byID := make(map[int64]Line, len(src.Lines))
	for _, line := range src.Lines {
		byID[line.ID] = line
	}
	seen := make(map[int64]float64, len(requested))
	for _, sel := range requested {
		line, ok := byID[sel.LineID]
		if !ok {
			return nil, fmt.Errorf("%w: line %d", ErrLineNotFound, sel.LineID)
		}
		if sel.Quantity <= 0 {
			return nil, fmt.Errorf("documents: line %d: quantity must be > 0: %w", sel.LineID, shared.ErrValidation)
		}
		seen[sel.LineID] += sel.Quantity

		if kind == accNone {
			if seen[sel.LineID] > line.Quantity+qtyEpsilon {
				return nil, fmt.Errorf("%w: line %d", ErrQuantityExceeded, sel.LineID)
			}
			continue
		}
		if line.Accumulator(kind) > line.Quantity+qtyEpsilon {
			return nil, fmt.Errorf("%w: line %d", ErrAccumulatorOverflow, sel.LineID)
		}
		if seen[sel.LineID] > line.Remaining(kind)+qtyEpsilon {
			return nil, fmt.Errorf("%w: line %d", ErrQuantityExceeded, sel.LineID)
		}
	}
	return requested, nil
}

// buildSuccessor assembles the successor document and its lines from the
// selected source lines, repricing them through the fiscal cascade.
func buildSuccessor(src *Document, target Type, number string, selections []Selection, settings tenant.Settings, actorID int64) (*Document, []Line, error) {
	byID := make(map[int64]Line, len(src.Lines))
	for _, line := range src.Lines {
		byID[line.ID] = line
	}

	fiscalLines := make([]fiscal.Line, 0, len(selections))
	lines := make([]Line, 0, len(selections))
	for i, sel := range selections {
		srcLine := byID[sel.LineID]
		fiscalLines = append(fiscalLines, fiscal.Line{
			Quantity:        sel.Quantity,
			UnitPrice:       srcLine.UnitPrice,
			DiscountPercent: srcLine.DiscountPercent,
			TaxPercent:      srcLine.TaxPercent,
		})
		srcID := sel.LineID
		lines = append(lines, Line{
			ProductID:       srcLine.ProductID,
			Designation:     srcLine.Designation,
			UOM:             srcLine.UOM,
			Quantity:        sel.Quantity,
			UnitPrice:       srcLine.UnitPrice,
			DiscountPercent: srcLine.DiscountPercent,
			TaxPercent:      srcLine.TaxPercent,
			SourceLineID:    &srcID,
			LineOrder:       i + 1,
		})
	}

	result, err := fiscal.Compute(fiscalLines, settings.Tax)
	if err != nil {
		return nil, nil, err
	}
	for i := range lines {
		lines[i].Net = result.Lines[i].Net
		lines[i].Tax = result.Lines[i].Tax
		lines[i].Total = result.Lines[i].Total
	}

	doc := &Document{
		TenantID:  src.TenantID,
		Type:      target,
		Number:    number,
		Status:    StatusValidated,
		PartyID:   src.PartyID,
		PartyName: src.PartyName,
		Currency:  src.Currency,
		Totals:    result.Document,
		CreatedBy: actorID,
	}
	return doc, lines, nil
}

// advanceSource applies the guarded accumulator increments and recomputes
// the source status. A rejected increment aborts the whole transaction.
func advanceSource(ctx context.Context, tx TxRepository, src *Document, selections []Selection, kind AccumulatorKind) error {
	if kind == accNone {
		return tx.UpdateDocumentStatus(ctx, src.ID, StatusFulfilled)
	}

	applied := make(map[int64]float64, len(selections))
	for _, sel := range selections {
		ok, err := tx.IncrementAccumulator(ctx, sel.LineID, kind, sel.Quantity)
		if err != nil {
			return fmt.Errorf("documents: increment accumulator: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: line %d", ErrQuantityExceeded, sel.LineID)
		}
		applied[sel.LineID] += sel.Quantity
	}

	fulfilled := true
	started := false
	for _, line := range src.Lines {
		acc := line.Accumulator(kind) + applied[line.ID]
		if acc > qtyEpsilon {
			started = true
		}
		if line.Quantity-acc > qtyEpsilon {
			fulfilled = false
		}
	}

	next := src.Status
	switch {
	case fulfilled:
		next = StatusFulfilled
	case started:
		next = StatusPartiallyFulfilled
	}
	if next != src.Status {
		return tx.UpdateDocumentStatus(ctx, src.ID, next)
	}
	return nil
}
