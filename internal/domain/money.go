package domain

import "math"

// Monetary amounts are stored as int64 minor currency units. JSON payloads
// carry decimal amounts, converted at the handler boundary with these helpers.

// AmountTolerance is the permitted difference, in minor units, between a
// processor-verified amount and a locally computed total. It absorbs rounding
// slack without hiding real mismatches.
const AmountTolerance int64 = 1

// MinorUnits converts a decimal amount to minor units, rounding half away
// from zero so 49.995 becomes 5000.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// DecimalAmount converts minor units back to a decimal amount for responses.
func DecimalAmount(minor int64) float64 {
	return float64(minor) / 100
}

// WithinTolerance reports whether two amounts in minor units differ by no
// more than AmountTolerance.
func WithinTolerance(a, b int64) bool {
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	return delta <= AmountTolerance
}
