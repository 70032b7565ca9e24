package fixedpoint

import "math/bits"

// #region int128
// Int128 is a signed 128-bit two's complement integer. It only exists as an
// intermediate for widened arithmetic and is passed by value.
type Int128 struct {
	Hi int64
	Lo uint64
}

// Int128From sign-extends v.
func Int128From(v int64) Int128 {
	return Int128{Hi: v >> 63, Lo: uint64(v)}
}

// MulInt64 returns the exact 128-bit product of a and b.
func MulInt64(a, b int64) Int128 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	// Correct the unsigned high word for negative operands.
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return Int128{Hi: int64(hi), Lo: lo}
}

// Add returns x + y modulo 2^128.
func (x Int128) Add(y Int128) Int128 {
	lo, carry := bits.Add64(x.Lo, y.Lo, 0)
	return Int128{Hi: x.Hi + y.Hi + int64(carry), Lo: lo}
}

// Neg returns -x modulo 2^128.
func (x Int128) Neg() Int128 {
	lo, borrow := bits.Sub64(0, x.Lo, 0)
	return Int128{Hi: -x.Hi - int64(borrow), Lo: lo}
}

// Shr is an arithmetic right shift (rounds toward negative infinity).
func (x Int128) Shr(n uint) Int128 {
	switch {
	case n == 0:
		return x
	case n >= 128:
		return Int128{Hi: x.Hi >> 63, Lo: uint64(x.Hi >> 63)}
	case n >= 64:
		return Int128{Hi: x.Hi >> 63, Lo: uint64(x.Hi >> (n - 64))}
	default:
		return Int128{Hi: x.Hi >> n, Lo: x.Lo>>n | uint64(x.Hi)<<(64-n)}
	}
}

// Cmp returns -1, 0 or 1.
func (x Int128) Cmp(y Int128) int {
	switch {
	case x.Hi < y.Hi:
		return -1
	case x.Hi > y.Hi:
		return 1
	case x.Lo < y.Lo:
		return -1
	case x.Lo > y.Lo:
		return 1
	}
	return 0
}

// Sign returns -1, 0 or 1.
func (x Int128) Sign() int {
	switch {
	case x.Hi < 0:
		return -1
	case x.Hi == 0 && x.Lo == 0:
		return 0
	}
	return 1
}

// Int64 narrows x. ok is false when x does not fit in 64 bits.
func (x Int128) Int64() (v int64, ok bool) {
	v = int64(x.Lo)
	return v, x.Hi == v>>63
}

// Saturate narrows x, clamping to the int64 range instead of wrapping.
func (x Int128) Saturate() int64 {
	if v, ok := x.Int64(); ok {
		return v
	}
	if x.Hi < 0 {
		return minInt64
	}
	return maxInt64
}

// #endregion int128
