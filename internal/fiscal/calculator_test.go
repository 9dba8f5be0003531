package fiscal

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func tndConfig() TaxConfig {
	return TaxConfig{
		FodecRate:    d("1"),
		FodecEnabled: true,
		StampAmount:  d("1.000"),
		StampEnabled: true,
		Rounding:     RoundingPerDocument,
		Precision:    2,
	}
}

func TestComputeCascade(t *testing.T) {
	lines := []Line{
		{Quantity: 2, UnitPrice: d("100"), DiscountPercent: d("0"), TaxPercent: d("19")},
	}

	res, err := Compute(lines, tndConfig())
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)

	require.True(t, res.Lines[0].Net.Equal(d("200")), "net %s", res.Lines[0].Net)
	require.True(t, res.Lines[0].Fodec.Equal(d("2")), "fodec %s", res.Lines[0].Fodec)
	require.True(t, res.Lines[0].TaxBase.Equal(d("202")), "base %s", res.Lines[0].TaxBase)
	require.True(t, res.Lines[0].Tax.Equal(d("38.38")), "tax %s", res.Lines[0].Tax)

	require.True(t, res.Document.Stamp.Equal(d("1")), "stamp %s", res.Document.Stamp)
	require.True(t, res.Document.Payable.Equal(d("241.38")), "payable %s", res.Document.Payable)
}

func TestComputeDiscountAndWithholding(t *testing.T) {
	cfg := tndConfig()
	cfg.WithholdingEnabled = true
	cfg.WithholdingRate = d("1.5")

	lines := []Line{
		{Quantity: 10, UnitPrice: d("50"), DiscountPercent: d("10"), TaxPercent: d("19")},
	}

	res, err := Compute(lines, cfg)
	require.NoError(t, err)

	// 500 gross, 450 net, 4.5 fodec, base 454.5, tax 86.355
	require.True(t, res.Lines[0].Net.Equal(d("450")))
	require.True(t, res.Lines[0].Fodec.Equal(d("4.5")))
	require.True(t, res.Lines[0].Tax.Equal(d("86.355")))

	// withholding: 1.5% of 454.5 = 6.8175 -> 6.82
	require.True(t, res.Document.Withholding.Equal(d("6.82")), "withholding %s", res.Document.Withholding)
	// payable: 454.5 + 86.355 + 1 - 6.8175 = 535.0375 -> 535.04
	require.True(t, res.Document.Payable.Equal(d("535.04")), "payable %s", res.Document.Payable)
}

func TestComputeIdempotent(t *testing.T) {
	lines := []Line{
		{Quantity: 3, UnitPrice: d("33.333"), DiscountPercent: d("7"), TaxPercent: d("19")},
		{Quantity: 1, UnitPrice: d("9.99"), TaxPercent: d("7")},
	}
	cfg := tndConfig()

	first, err := Compute(lines, cfg)
	require.NoError(t, err)
	second, err := Compute(lines, cfg)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestComputeRoundingModesDiverge(t *testing.T) {
	// Prices chosen so that per-line rounding of the tax accumulates a
	// different total than rounding the full-precision sum once. The
	// divergence is bounded by a few minor units and is expected, not a bug.
	lines := []Line{
		{Quantity: 1, UnitPrice: d("10.005"), TaxPercent: d("19")},
		{Quantity: 1, UnitPrice: d("10.005"), TaxPercent: d("19")},
		{Quantity: 1, UnitPrice: d("10.005"), TaxPercent: d("19")},
	}
	cfg := TaxConfig{Rounding: RoundingPerDocument, Precision: 2}

	perDoc, err := Compute(lines, cfg)
	require.NoError(t, err)

	cfg.Rounding = RoundingPerLine
	perLine, err := Compute(lines, cfg)
	require.NoError(t, err)

	diff := perDoc.Document.Payable.Sub(perLine.Document.Payable).Abs()
	require.False(t, diff.IsZero(), "modes expected to diverge on this input")
	require.True(t, diff.LessThanOrEqual(d("0.05")), "divergence %s exceeds a few minor units", diff)
}

func TestComputeZeroLineStillAppears(t *testing.T) {
	lines := []Line{
		{Quantity: 0, UnitPrice: d("100"), TaxPercent: d("19")},
		{Quantity: 5, UnitPrice: d("0"), TaxPercent: d("19")},
		{Quantity: 2, UnitPrice: d("10"), TaxPercent: d("19")},
	}

	res, err := Compute(lines, tndConfig())
	require.NoError(t, err)
	require.Len(t, res.Lines, 3)
	require.True(t, res.Lines[0].Total.IsZero())
	require.True(t, res.Lines[1].Total.IsZero())
	require.False(t, res.Lines[2].Total.IsZero())
}

func TestComputeRejectsNegativeInputs(t *testing.T) {
	cfg := tndConfig()

	cases := map[string][]Line{
		"negative discount": {{Quantity: 1, UnitPrice: d("10"), DiscountPercent: d("-5"), TaxPercent: d("19")}},
		"discount over 100": {{Quantity: 1, UnitPrice: d("10"), DiscountPercent: d("101"), TaxPercent: d("19")}},
		"negative tax rate": {{Quantity: 1, UnitPrice: d("10"), TaxPercent: d("-19")}},
		"negative quantity": {{Quantity: -1, UnitPrice: d("10"), TaxPercent: d("19")}},
		"negative price":    {{Quantity: 1, UnitPrice: d("-10"), TaxPercent: d("19")}},
	}

	for name, lines := range cases {
		_, err := Compute(lines, cfg)
		require.Error(t, err, name)
	}
}

func TestComputeStampAddedOncePerDocument(t *testing.T) {
	one := []Line{{Quantity: 1, UnitPrice: d("10"), TaxPercent: d("19")}}
	many := []Line{
		{Quantity: 1, UnitPrice: d("10"), TaxPercent: d("19")},
		{Quantity: 1, UnitPrice: d("10"), TaxPercent: d("19")},
		{Quantity: 1, UnitPrice: d("10"), TaxPercent: d("19")},
	}
	cfg := tndConfig()

	a, err := Compute(one, cfg)
	require.NoError(t, err)
	b, err := Compute(many, cfg)
	require.NoError(t, err)

	require.True(t, a.Document.Stamp.Equal(b.Document.Stamp))
}
