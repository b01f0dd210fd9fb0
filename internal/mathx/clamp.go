package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RoundTo1dp truncates v to one decimal place, matching how the sensor
// values are shown on the panel.
func RoundTo1dp(v float64) float64 {
	return float64(int64(v*10)) / 10
}
