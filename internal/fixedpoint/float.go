package fixedpoint

import (
	"math"
	"slices"
)

// #region sanitize
// Sanitize maps the special float values onto ordinary ones so later
// comparisons are total: NaN becomes 0, ±Inf becomes ±MaxFloat64 and -0 becomes +0.
// wasSpecial reports whether any mapping happened.
func Sanitize(x float64) (value float64, wasSpecial bool) {
	switch {
	case math.IsNaN(x):
		return 0, true
	case math.IsInf(x, 1):
		return math.MaxFloat64, true
	case math.IsInf(x, -1):
		return -math.MaxFloat64, true
	case x == 0 && math.Signbit(x):
		return 0, true
	}
	return x, false
}

// #endregion sanitize

// #region total-order
// TotalOrder compares the bit patterns of a and b under the IEEE 754 totalOrder
// predicate: -NaN < -Inf < ... < -0 < +0 < ... < +Inf < +NaN, with NaNs ordered
// by payload. Two values compare equal only if their bits are identical.
func TotalOrder(a, b float64) int {
	ka, kb := orderKey(a), orderKey(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	}
	return 0
}

// SortTotal sorts xs in place by TotalOrder. The result is a pure function of
// the multiset of bit patterns in xs.
func SortTotal(xs []float64) {
	slices.SortFunc(xs, TotalOrder)
}

func orderKey(x float64) uint64 {
	b := math.Float64bits(x)
	if b>>63 == 1 {
		return ^b
	}
	return b | 1<<63
}

// #endregion total-order
