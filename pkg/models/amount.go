package models

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount the ledger accepts, 2^127-1.
var MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1)), 0)

// maxExponent is the largest exponent a positive whole amount can carry:
// any coefficient scaled by 10^39 already exceeds MaxAmount.
const maxExponent = 38

// ValidAmount reports whether d is a whole number in (0, MaxAmount].
// Oversized exponents are rejected before any comparison rescales d.
func ValidAmount(d decimal.Decimal) bool {
	if !d.IsPositive() || d.Exponent() > maxExponent || !d.IsInteger() {
		return false
	}
	return d.LessThanOrEqual(MaxAmount)
}

// FormatAmount renders d for messages and canonical arguments. Values with
// an exponent outside the amount range keep their scientific form so that
// formatting stays proportional to the input.
func FormatAmount(d decimal.Decimal) string {
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return d.Coefficient().String() + "e" + strconv.FormatInt(int64(exp), 10)
	}
	return d.String()
}
