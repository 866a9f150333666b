package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept for unit and average prices.
const PriceScale = 4

var hundred = decimal.NewFromInt(100)

// MinInt returns the smaller of two integers.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RoundFloat rounds a float64 to a specified number of decimal places.
func RoundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// CapConfidence rounds a confidence score to 4 places and caps it at 1.0.
func CapConfidence(c float64) float64 {
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return RoundFloat(c, 4)
}

// UnitPrice divides total by quantity, half-up at PriceScale places.
// A zero quantity yields zero.
func UnitPrice(total decimal.Decimal, quantity int) decimal.Decimal {
	if quantity == 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(int64(quantity)), PriceScale)
}

// Percent returns part / base × 100 at PriceScale places. A zero base yields zero.
func Percent(part, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(base, PriceScale)
}

// WithinTolerance reports whether |a - b| <= tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
