package discount

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Calculate applies a discount of type t and value to amount (minor units).
// Percentages are clamped to [0, 100] and rounded half away from zero;
// fixed amounts are clamped to [0, amount]. The final amount is never negative.
func Calculate(t Type, value decimal.Decimal, amount int64) Calculation {
	if amount <= 0 {
		return Calculation{OriginalAmount: amount, FinalAmount: amount}
	}

	var off int64
	switch t {
	case Percentage:
		pct := decimal.Min(decimal.Max(value, decimal.Zero), hundred)
		off = decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
	case FixedAmount:
		off = decimal.Max(value, decimal.Zero).Round(0).IntPart()
	}
	off = min(max(off, 0), amount)

	return Calculation{
		OriginalAmount: amount,
		DiscountAmount: off,
		FinalAmount:    amount - off,
	}
}
