// Package money provides shared parsing, formatting, and rounding
// utilities for monetary amounts.
//
// Amounts are decimal strings with exactly 2 fractional digits (e.g.
// "129.99"), stored internally as big.Int in the smallest currency unit
// (cents: 1 USD = 100 units). Using big.Int rather than a machine float
// keeps totals exact across repeated addition and percentage-based fee
// computation, which is the arithmetic the pricing engine and payment
// amounts both depend on.
package money

import (
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits money amounts carry.
const Decimals = 2

var centsPerUnit = big.NewInt(100)

// Parse converts a decimal string (e.g. "129.99") to its smallest-unit
// big.Int representation (12999). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if len(frac) > Decimals {
		// Truncate rather than round: callers that need half-up rounding
		// on a computed (non-literal) amount should use RoundHalfUp instead.
		frac = frac[:Decimals]
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 2 decimal places (e.g. "129.99").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Zero returns the zero amount.
func Zero() *big.Int {
	return big.NewInt(0)
}

// Add returns a + b, allocating a new big.Int.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a - b, allocating a new big.Int.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// MulRateHalfUp multiplies amount (in minor units) by a rate expressed as
// numerator/denominator (e.g. a 8.25% tax rate is numerator=825,
// denominator=10000) and rounds the result half away from zero to the
// nearest minor unit. Used for tax and fee line items, where truncating
// division would silently under-charge by a fraction of a cent on every
// reservation.
func MulRateHalfUp(amount *big.Int, numerator, denominator int64) *big.Int {
	if denominator == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, big.NewInt(numerator))
	return divRoundHalfUp(num, big.NewInt(denominator))
}

// divRoundHalfUp computes num/den rounded half away from zero.
func divRoundHalfUp(num, den *big.Int) *big.Int {
	neg := (num.Sign() < 0) != (den.Sign() < 0)
	n := new(big.Int).Abs(num)
	d := new(big.Int).Abs(den)

	q, r := new(big.Int), new(big.Int)
	q.QuoRem(n, d, r)

	// round up if remainder*2 >= denominator
	twice := new(big.Int).Mul(r, big.NewInt(2))
	if twice.Cmp(d) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	if neg {
		q.Neg(q)
	}
	return q
}

// IsPositive reports whether amount is strictly greater than zero.
func IsPositive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// IsNonNegative reports whether amount is zero or greater.
func IsNonNegative(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0
}
