// Package money implements the decimal transformers spec §4.B requires for
// monetary, percentage, and exchange-rate columns: parse the string a
// Postgres decimal column round-trips as, validate finite numeric bounds,
// and reject anything that isn't a clean base-10 number. Money is never
// represented as a native float anywhere in this codebase (spec §9).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bounds describes the inclusive numeric range and scale a column enforces.
type Bounds struct {
	Min   decimal.Decimal
	Max   decimal.Decimal
	Scale int32 // max decimal places
}

var (
	// Amount covers decimal(12,2) money columns: [-1e12, 1e12].
	Amount = Bounds{
		Min:   decimal.New(-1, 12),
		Max:   decimal.New(1, 12),
		Scale: 2,
	}
	// Percentage covers decimal(5,2) percentage columns: [-1000, 1000].
	Percentage = Bounds{
		Min:   decimal.New(-1000, 0),
		Max:   decimal.New(1000, 0),
		Scale: 2,
	}
	// ExchangeRate covers decimal(12,6) rate columns: [0, 1e6].
	ExchangeRate = Bounds{
		Min:   decimal.Zero,
		Max:   decimal.New(1, 6),
		Scale: 6,
	}
)

// Parse validates s against b and returns the decimal value. Rejects
// malformed strings (which is how NaN/Infinity are excluded — decimal.
// Decimal has no such states, so the only way they could reach this
// boundary is via a hand-edited row or an upstream float64 cast, and
// those fail to parse as a clean base-10 literal here) and out-of-bounds
// values.
func Parse(s string, b Bounds) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return validate(d, b)
}

// FromFloat converts a float64 (e.g. from an upstream gateway payload)
// through its shortest decimal string representation, then validates it
// the same way Parse does. Never construct a decimal.Decimal directly
// from a float via decimal.NewFromFloat for money in this codebase —
// always route through here so the bounds/NaN/Inf check runs.
func FromFloat(f float64, b Bounds) (decimal.Decimal, error) {
	if f != f { // NaN
		return decimal.Decimal{}, fmt.Errorf("money: NaN is not a valid monetary value")
	}
	if f > 1e308 || f < -1e308 {
		return decimal.Decimal{}, fmt.Errorf("money: non-finite value is not a valid monetary value")
	}
	return validate(decimal.NewFromFloat(f), b)
}

func validate(d decimal.Decimal, b Bounds) (decimal.Decimal, error) {
	if d.LessThan(b.Min) || d.GreaterThan(b.Max) {
		return decimal.Decimal{}, fmt.Errorf("money: value %s out of bounds [%s, %s]", d, b.Min, b.Max)
	}
	rounded := d.Round(b.Scale)
	if !rounded.Equal(d) {
		return decimal.Decimal{}, fmt.Errorf("money: value %s exceeds scale %d", d, b.Scale)
	}
	return d, nil
}

// Wire renders d as the canonical string stored in/read from the
// database column, fixed to the column's scale.
func Wire(d decimal.Decimal, b Bounds) string {
	return d.StringFixed(b.Scale)
}
