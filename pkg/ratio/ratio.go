// Package ratio holds null-safe arithmetic for derived measures.
//
// A null operand or a zero denominator yields a null result. Nothing here panics.
package ratio

import "github.com/shopspring/decimal"

// DivisionPrecision is the number of decimal places kept by SafeDivide.
const DivisionPrecision int32 = 6

// Null is the absent value.
var Null = decimal.NullDecimal{}

// Of wraps a present value.
func Of(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Int wraps a present integer value.
func Int(n int64) decimal.NullDecimal {
	return Of(decimal.NewFromInt(n))
}

// SafeDivide returns num / den rounded to DivisionPrecision places, or null when
// either side is null or the denominator is zero.
func SafeDivide(num, den decimal.NullDecimal) decimal.NullDecimal {
	if !num.Valid || !den.Valid || den.Decimal.IsZero() {
		return Null
	}
	return Of(num.Decimal.DivRound(den.Decimal, DivisionPrecision))
}

// Sub returns a - b, null when either side is null.
func Sub(a, b decimal.NullDecimal) decimal.NullDecimal {
	if !a.Valid || !b.Valid {
		return Null
	}
	return Of(a.Decimal.Sub(b.Decimal))
}

// Add returns the sum of all operands, null when any operand is null.
func Add(operands ...decimal.NullDecimal) decimal.NullDecimal {
	total := decimal.Zero
	for _, op := range operands {
		if !op.Valid {
			return Null
		}
		total = total.Add(op.Decimal)
	}
	return Of(total)
}

// Mul returns the product of all operands, null when any operand is null.
func Mul(operands ...decimal.NullDecimal) decimal.NullDecimal {
	if len(operands) == 0 {
		return Null
	}
	product := decimal.NewFromInt(1)
	for _, op := range operands {
		if !op.Valid {
			return Null
		}
		product = product.Mul(op.Decimal)
	}
	return Of(product)
}

// Equal compares two nullable values; two nulls are equal.
func Equal(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
