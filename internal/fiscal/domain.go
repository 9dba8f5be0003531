package fiscal

import (
	"github.com/shopspring/decimal"
)

// RoundingMode selects where rounding happens in the cascade.
type RoundingMode string

const (
	// RoundingPerLine rounds every intermediate monetary value to the
	// currency precision before summation.
	RoundingPerLine RoundingMode = "PER_LINE"
	// RoundingPerDocument carries full precision through the cascade and
	// rounds only the final document sums.
	RoundingPerDocument RoundingMode = "PER_DOCUMENT"
)

// TaxConfig is the tenant's fiscal configuration, read from tenant settings
// at computation time. FODEC is the parafiscal levy; the stamp (timbre
// fiscal) is a fixed per-document amount.
type TaxConfig struct {
	FodecRate          decimal.Decimal
	FodecEnabled       bool
	StampAmount        decimal.Decimal
	StampEnabled       bool
	WithholdingRate    decimal.Decimal
	WithholdingEnabled bool
	DefaultTaxRate     decimal.Decimal
	Rounding           RoundingMode
	// Precision is the currency's minor-unit count (3 for TND).
	Precision int32
}

// Line is the computation input for a single document line.
type Line struct {
	Quantity        float64
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
}

// LineTotals holds every cascade stage for one line, in input order.
type LineTotals struct {
	Gross    decimal.Decimal `json:"gross"`
	Discount decimal.Decimal `json:"discount"`
	Net      decimal.Decimal `json:"net"`
	Fodec    decimal.Decimal `json:"fodec"`
	TaxBase  decimal.Decimal `json:"tax_base"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// DocumentTotals aggregates the whole document.
type DocumentTotals struct {
	Net         decimal.Decimal `json:"net"`
	Fodec       decimal.Decimal `json:"fodec"`
	Tax         decimal.Decimal `json:"tax"`
	Stamp       decimal.Decimal `json:"stamp"`
	Withholding decimal.Decimal `json:"withholding"`
	Payable     decimal.Decimal `json:"payable"`
}

// Result is the full output of Compute.
type Result struct {
	Lines    []LineTotals   `json:"lines"`
	Document DocumentTotals `json:"document"`
}
