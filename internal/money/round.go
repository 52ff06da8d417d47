// Package money provides currency rounding helpers shared by rent
// resolution and invoice tax computation. Deployment currency precision is
// configurable: 2 decimals for cents-style currencies, 0 for currencies
// without subunits.
package money

import "math"

// epsilon compensates for binary float artifacts (1.005*100 == 100.49999...)
// so midpoint values still round up.
const epsilon = 1e-9

// RoundHalfUp rounds v to the given number of decimals using round-half-up,
// matching invoice conventions (no banker's rounding).
func RoundHalfUp(v float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	factor := math.Pow(10, float64(decimals))
	scaled := v * factor
	if scaled < 0 {
		return -math.Floor(-scaled+0.5+epsilon) / factor
	}
	return math.Floor(scaled+0.5+epsilon) / factor
}
