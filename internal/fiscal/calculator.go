// Package fiscal computes cascading document totals. Compute is pure and
// deterministic: every creation, edit and conversion path prices lines
// through this single function so call sites cannot drift apart.
package fiscal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gescom-erp/gescom/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Compute runs the fiscal cascade over lines under cfg.
//
// Per line, in this order: gross = qty x price; net = gross less discount;
// FODEC = net x rate (when enabled); tax base = net + FODEC;
// tax = base x rate. Document totals sum the lines, add the stamp once when
// enabled, and subtract withholding at source (a percentage of the pre-tax
// base) when enabled.
//
// A zero-quantity or zero-price line contributes zero everywhere but still
// appears in Lines. Negative discounts or rates are rejected, not clamped.
func Compute(lines []Line, cfg TaxConfig) (Result, error) {
	if cfg.Precision < 0 {
		return Result{}, fmt.Errorf("fiscal: precision must be >= 0: %w", shared.ErrValidation)
	}
	if cfg.FodecEnabled && cfg.FodecRate.IsNegative() {
		return Result{}, fmt.Errorf("fiscal: fodec rate must be >= 0: %w", shared.ErrValidation)
	}
	if cfg.WithholdingEnabled && cfg.WithholdingRate.IsNegative() {
		return Result{}, fmt.Errorf("fiscal: withholding rate must be >= 0: %w", shared.ErrValidation)
	}

	perLine := cfg.Rounding == RoundingPerLine

	result := Result{Lines: make([]LineTotals, 0, len(lines))}
	var sumNet, sumFodec, sumTax decimal.Decimal

	for i, line := range lines {
		if line.Quantity < 0 {
			return Result{}, fmt.Errorf("fiscal: line %d: quantity must be >= 0: %w", i, shared.ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return Result{}, fmt.Errorf("fiscal: line %d: unit price must be >= 0: %w", i, shared.ErrValidation)
		}
		if line.DiscountPercent.IsNegative() || line.DiscountPercent.GreaterThan(hundred) {
			return Result{}, fmt.Errorf("fiscal: line %d: discount must be between 0 and 100: %w", i, shared.ErrValidation)
		}
		if line.TaxPercent.IsNegative() {
			return Result{}, fmt.Errorf("fiscal: line %d: tax rate must be >= 0: %w", i, shared.ErrValidation)
		}

		gross := decimal.NewFromFloat(line.Quantity).Mul(line.UnitPrice)
		if perLine {
			gross = gross.Round(cfg.Precision)
		}

		discount := gross.Mul(line.DiscountPercent).Div(hundred)
		if perLine {
			discount = discount.Round(cfg.Precision)
		}

		net := gross.Sub(discount)

		fodec := decimal.Zero
		if cfg.FodecEnabled {
			fodec = net.Mul(cfg.FodecRate).Div(hundred)
			if perLine {
				fodec = fodec.Round(cfg.Precision)
			}
		}

		base := net.Add(fodec)
		tax := base.Mul(line.TaxPercent).Div(hundred)
		if perLine {
			tax = tax.Round(cfg.Precision)
		}

		result.Lines = append(result.Lines, LineTotals{
			Gross:    gross,
			Discount: discount,
			Net:      net,
			Fodec:    fodec,
			TaxBase:  base,
			Tax:      tax,
			Total:    base.Add(tax),
		})

		sumNet = sumNet.Add(net)
		sumFodec = sumFodec.Add(fodec)
		sumTax = sumTax.Add(tax)
	}

	stamp := decimal.Zero
	if cfg.StampEnabled {
		stamp = cfg.StampAmount
	}

	preTaxBase := sumNet.Add(sumFodec)
	withholding := decimal.Zero
	if cfg.WithholdingEnabled {
		withholding = preTaxBase.Mul(cfg.WithholdingRate).Div(hundred)
	}

	payable := preTaxBase.Add(sumTax).Add(stamp).Sub(withholding)

	// Per-line mode already rounded the addends; rounding the sums again is
	// a no-op there and the required final rounding in per-document mode.
	result.Document = DocumentTotals{
		Net:         sumNet.Round(cfg.Precision),
		Fodec:       sumFodec.Round(cfg.Precision),
		Tax:         sumTax.Round(cfg.Precision),
		Stamp:       stamp.Round(cfg.Precision),
		Withholding: withholding.Round(cfg.Precision),
		Payable:     payable.Round(cfg.Precision),
	}

	return result, nil
}
