package domain

import (
	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimals between display and minor units (cents).
const MinorUnitExponent = 2

var hundred = decimal.NewFromInt(100)

// ToMinor converts a display amount to minor units, rounding half away from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(MinorUnitExponent).Round(0).IntPart()
}

// FromMinor converts minor units to a display amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent)
}

// PercentOf returns round_half_up(amountMinor * ratePercent / 100) in minor
// units. Negative inputs yield zero: commissions are never negative.
func PercentOf(amountMinor int64, ratePercent decimal.Decimal) int64 {
	if amountMinor <= 0 || !ratePercent.IsPositive() {
		return 0
	}
	v := decimal.NewFromInt(amountMinor).Mul(ratePercent).Div(hundred)
	// Round is half away from zero, which is half-up for positive values.
	return v.Round(0).IntPart()
}
