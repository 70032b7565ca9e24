// Package fixedpoint implements the deterministic Q16 arithmetic every gate
// decision is computed with. Operations that can leave the 64-bit range are
// evaluated through a 128-bit intermediate and report overflow explicitly;
// results are saturated, never wrapped.
package fixedpoint

import (
	"math"
	"math/bits"
)

// #region q16
// Q16 is a real number scaled by 2^16 and stored in an int64.
type Q16 int64

const (
	FracBits = 16
	One      Q16 = 1 << FracBits
	Half     Q16 = One / 2

	maxInt64 = math.MaxInt64
	minInt64 = math.MinInt64

	MaxQ16 Q16 = maxInt64
	MinQ16 Q16 = minInt64
)

// two63 is 2^63 as a float64, the first value past the int64 range.
const two63 = 9223372036854775808.0

// FromInt converts an integer, reporting overflow when i*2^16 leaves the int64 range.
func FromInt(i int64) (Q16, bool) {
	v, ok := Int128From(i).shl(FracBits).Int64()
	if !ok {
		return saturateSign(i), true
	}
	return Q16(v), false
}

// FromFloat converts f, rounding half away from zero. NaN converts to 0 and
// ±Inf saturates; callers that care must validate finiteness first.
func FromFloat(f float64) (Q16, bool) {
	f, _ = Sanitize(f)
	scaled := math.Round(f * float64(One))
	switch {
	case scaled >= two63:
		return MaxQ16, true
	case scaled < -two63:
		return MinQ16, true
	}
	return Q16(int64(scaled)), false
}

// MustFromFloat converts constants known to fit.
func MustFromFloat(f float64) Q16 {
	q, overflow := FromFloat(f)
	if overflow {
		panic("fixedpoint: constant out of Q16 range")
	}
	return q
}

// Float returns the float64 nearest to q.
func (q Q16) Float() float64 {
	return float64(q) / float64(One)
}

// #endregion q16

// #region arithmetic
// Add returns a+b. On overflow the result saturates toward the sign of the true sum.
func Add(a, b Q16) (Q16, bool) {
	return narrow(Int128From(int64(a)).Add(Int128From(int64(b))))
}

// Sub returns a-b with the same overflow contract as Add.
func Sub(a, b Q16) (Q16, bool) {
	return narrow(Int128From(int64(a)).Add(Int128From(int64(b)).Neg()))
}

// Mul returns floor(a*b / 2^16), computed from the exact 128-bit product.
func Mul(a, b Q16) (Q16, bool) {
	return narrow(MulInt64(int64(a), int64(b)).Shr(FracBits))
}

// Div returns a/b truncated toward zero. Division by zero is reported as an
// overflow and saturates by the sign of a.
func Div(a, b Q16) (Q16, bool) {
	if b == 0 {
		if a == 0 {
			return 0, true
		}
		return saturateSign(int64(a)), true
	}
	negative := (a < 0) != (b < 0)
	ua, ub := absU64(int64(a)), absU64(int64(b))

	// (ua << 16) as a 128-bit numerator.
	hi, lo := ua>>(64-FracBits), ua<<FracBits
	if hi >= ub {
		return saturateBool(negative), true
	}
	quo, _ := bits.Div64(hi, lo, ub)
	if negative {
		if quo > 1<<63 {
			return MinQ16, true
		}
		return Q16(-int64(quo)), false
	}
	if quo > maxInt64 {
		return MaxQ16, true
	}
	return Q16(quo), false
}

// Abs returns |a|; Abs(MinQ16) overflows.
func Abs(a Q16) (Q16, bool) {
	if a >= 0 {
		return a, false
	}
	return Sub(0, a)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi Q16) Q16 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// #endregion arithmetic

// #region helpers
func narrow(x Int128) (Q16, bool) {
	v, ok := x.Int64()
	if !ok {
		return Q16(x.Saturate()), true
	}
	return Q16(v), false
}

func (x Int128) shl(n uint) Int128 {
	if n == 0 {
		return x
	}
	return Int128{Hi: x.Hi<<n | int64(x.Lo>>(64-n)), Lo: x.Lo << n}
}

func absU64(v int64) uint64 {
	u := uint64(v)
	if v < 0 {
		u = -u
	}
	return u
}

func saturateSign(v int64) Q16 {
	return saturateBool(v < 0)
}

func saturateBool(negative bool) Q16 {
	if negative {
		return MinQ16
	}
	return MaxQ16
}

// #endregion helpers
