// Package reputation implements the community-gated voting threshold and
// weighted-average merge rule shared by the peer and agent reputation
// surfaces (spec §4.5).
package reputation

import "math"

// Threshold returns max(0, mean - k*stddev) over the population of values.
// An empty population has threshold 0 (no members, nothing to gate).
func Threshold(values []float64, sigmaFactor float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sigma := StdDev(values, mean)
	t := mean - sigmaFactor*sigma
	if t < 0 {
		return 0
	}
	return t
}

// Mean is the arithmetic mean of values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the population (not sample) standard deviation of values
// around mean.
func StdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// Vote applies the weighted-average merge rule: new = clamp01(current*(1-w)
// + proposed*w), where w is the caller's own reputation.
func Vote(current, proposed, weight float64) float64 {
	merged := current*(1-weight) + proposed*weight
	return Clamp01(merged)
}

// Clamp01 clamps v to the closed interval [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FiniteUnit reports whether v is a finite real in [0, 1], the precondition
// spec §4.5 requires of every proposed reputation value.
func FiniteUnit(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 1
}
