// Package pricing is pure arithmetic over fixed-point money: rental days,
// markup, commission, discount, tax, and extras. Nothing here touches
// storage or the network, so none of it suspends the scheduler.
package pricing

import (
	"math/big"
	"time"

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/money"
)

// DiscountKind is the shape of a discount applied to a price.
type DiscountKind string

const (
	DiscountPercent     DiscountKind = "PERCENT"
	DiscountFixedAmount DiscountKind = "FIXED_AMOUNT"
)

// Percentages (markup, discount, tax rate) are expressed as integer
// hundredths of a percent so fractional rates need no floating point:
// 8.25% is represented as 825, 100% as 10000.

// ExtraLine is a quantity of a flat-rate extra (e.g. child seat, GPS).
type ExtraLine struct {
	UnitPrice *big.Int
	Quantity  int64
}

// RentalDays returns the whole-day difference between pickup and dropoff,
// rounded up if any fractional time remains. Always at least 1: a
// same-instant or same-day booking still counts as a single rental day.
func RentalDays(pickup, dropoff time.Time) int {
	d := dropoff.Sub(pickup)
	if d <= 0 {
		return 1
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

// PublicPrice applies a percentage markup to cost, rounded half-up to the
// nearest cent: round2(cost * (1 + pct/100)).
func PublicPrice(cost *big.Int, markupPct *big.Int) *big.Int {
	// (cost * (10000 + markupPct*100)) / 10000, i.e. markupPct in percent
	// with up to 2 decimal digits of its own (e.g. 12.5%).
	hundred := big.NewInt(100)
	factorNum := new(big.Int).Mul(markupPct, hundred)
	factorNum.Add(factorNum, big.NewInt(1_000_000)) // 100% * 10000 base
	num := new(big.Int).Mul(cost, factorNum)
	return divRoundHalfUp(num, big.NewInt(1_000_000))
}

// Commission returns max(0, public - cost).
func Commission(public, cost *big.Int) *big.Int {
	diff := money.Sub(public, cost)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

// DiscountResult is the outcome of applying a discount to a price.
type DiscountResult struct {
	FinalPrice      *big.Int
	DiscountApplied *big.Int
}

// ApplyDiscount applies a PERCENT or FIXED_AMOUNT discount to price,
// clamped so the discount never exceeds max (if given), never exceeds the
// price itself, and is never negative.
func ApplyDiscount(price *big.Int, kind DiscountKind, value *big.Int, max *big.Int) (DiscountResult, error) {
	var discount *big.Int

	switch kind {
	case DiscountPercent:
		// value is a percentage with up to 2 decimal digits, same
		// convention as PublicPrice's markupPct.
		num := new(big.Int).Mul(price, new(big.Int).Mul(value, big.NewInt(100)))
		discount = divRoundHalfUp(num, big.NewInt(1_000_000))
	case DiscountFixedAmount:
		discount = new(big.Int).Set(value)
	default:
		return DiscountResult{}, apperr.Validation("discount_kind", "invalid discount kind: must be PERCENT or FIXED_AMOUNT")
	}

	if discount.Sign() < 0 {
		discount = big.NewInt(0)
	}
	if max != nil && discount.Cmp(max) > 0 {
		discount = new(big.Int).Set(max)
	}
	if discount.Cmp(price) > 0 {
		discount = new(big.Int).Set(price)
	}

	final := money.Sub(price, discount)
	return DiscountResult{FinalPrice: final, DiscountApplied: discount}, nil
}

// Taxes returns round2(base * pct/100), where pct may carry up to 2
// decimal digits (e.g. 8.25%).
func Taxes(base *big.Int, ratePct *big.Int) *big.Int {
	num := new(big.Int).Mul(base, new(big.Int).Mul(ratePct, big.NewInt(100)))
	return divRoundHalfUp(num, big.NewInt(1_000_000))
}

// TotalWithExtras returns round2(base + sum(unit*qty)). Extras are
// flat-rate line items (already in minor units), so no rounding is needed
// on the sum itself; the round2 in the contract is satisfied because
// money amounts are already integral minor units.
func TotalWithExtras(base *big.Int, extras []ExtraLine) *big.Int {
	total := new(big.Int).Set(base)
	for _, e := range extras {
		line := new(big.Int).Mul(e.UnitPrice, big.NewInt(e.Quantity))
		total.Add(total, line)
	}
	return total
}

// divRoundHalfUp computes num/den rounded half away from zero.
func divRoundHalfUp(num, den *big.Int) *big.Int {
	neg := (num.Sign() < 0) != (den.Sign() < 0)
	n := new(big.Int).Abs(num)
	d := new(big.Int).Abs(den)

	q, r := new(big.Int), new(big.Int)
	q.QuoRem(n, d, r)

	twice := new(big.Int).Mul(r, big.NewInt(2))
	if twice.Cmp(d) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	if neg {
		q.Neg(q)
	}
	return q
}
