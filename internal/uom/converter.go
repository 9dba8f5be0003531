// Package uom normalizes quantities between units of measure. Movement and
// line quantities expressed in a sales or purchase unit are converted to the
// product's stock-tracking unit before they hit the ledger.
package uom

import "fmt"

// Converter converts quantities between units of the same category.
type Converter struct {
	units map[string]UnitOfMeasure
}

// NewConverter indexes the given catalog by code.
func NewConverter(units []UnitOfMeasure) *Converter {
	indexed := make(map[string]UnitOfMeasure, len(units))
	for _, u := range units {
		indexed[u.Code] = u
	}
	return &Converter{units: indexed}
}

// Normalize converts qty expressed in fromCode into toCode, going through
// the category base unit. Identical codes pass through untouched.
func (c *Converter) Normalize(qty float64, fromCode, toCode string) (float64, error) {
	if fromCode == toCode {
		return qty, nil
	}
	from, ok := c.units[fromCode]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, fromCode)
	}
	to, ok := c.units[toCode]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, toCode)
	}
	if from.Category != to.Category {
		return 0, fmt.Errorf("%w: %s (%s) vs %s (%s)", ErrCategoryMismatch, fromCode, from.Category, toCode, to.Category)
	}
	if from.Factor <= 0 || to.Factor <= 0 {
		return 0, ErrInvalidFactor
	}
	return qty * from.Factor / to.Factor, nil
}
