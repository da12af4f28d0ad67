package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// DiscountedUnitPrice computes base * (100 - discountPct) / 100 rounded
// half-up to 2 decimal places. discountPct is clamped to [0, 90] upstream by
// input validation; the engine itself is a pure function.
func DiscountedUnitPrice(base decimal.Decimal, discountPct int) decimal.Decimal {
	factor := hundred.Sub(decimal.NewFromInt(int64(discountPct)))
	return base.Mul(factor).Div(hundred).Round(2)
}
