package fixedpoint

import (
	"errors"
	"slices"
)

// ErrEmptyInput is returned by the statistics helpers for zero-length input.
var ErrEmptyInput = errors.New("fixedpoint: empty input")

// #region median
// Median returns the median of xs. For an even count it is the floor of the
// mean of the two middle values. xs is not modified.
func Median(xs []Q16) (Q16, error) {
	if len(xs) == 0 {
		return 0, ErrEmptyInput
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	sum := Int128From(int64(sorted[n/2-1])).Add(Int128From(int64(sorted[n/2])))
	// The mean of two int64 values always fits back into 64 bits.
	v, _ := sum.Shr(1).Int64()
	return Q16(v), nil
}

// MAD returns the median of xs and the median absolute deviation around it.
// Deviations that leave the Q16 range saturate.
func MAD(xs []Q16) (median, mad Q16, err error) {
	median, err = Median(xs)
	if err != nil {
		return 0, 0, err
	}
	devs := make([]Q16, len(xs))
	for i, x := range xs {
		d, _ := Sub(x, median)
		devs[i], _ = Abs(d)
	}
	mad, err = Median(devs)
	return median, mad, err
}

// #endregion median

// #region softmax
// SoftmaxOutcome classifies the shape of a softmax result.
type SoftmaxOutcome uint8

const (
	SoftmaxNormal SoftmaxOutcome = iota
	// SoftmaxUniform means every input was identical.
	SoftmaxUniform
	// SoftmaxDegenerate means every non-maximal weight underflowed to zero.
	SoftmaxDegenerate
)

// ln2 in Q16.
const ln2Q16 Q16 = 45426

// expCutoff is the point below which exp underflows Q16 entirely.
const expCutoff = -24 * One

// Softmax returns weights in Q16 that sum to exactly One. Inputs are shifted by
// their maximum first; the rounding residue goes to the lowest-index maximum.
func Softmax(xs []Q16) ([]Q16, SoftmaxOutcome, error) {
	if len(xs) == 0 {
		return nil, SoftmaxNormal, ErrEmptyInput
	}

	maxIdx := 0
	uniform := true
	for i, x := range xs {
		if x > xs[maxIdx] {
			maxIdx = i
		}
		if x != xs[0] {
			uniform = false
		}
	}

	exps := make([]Q16, len(xs))
	var total int64
	nonZero := 0
	for i, x := range xs {
		shifted, _ := Sub(x, xs[maxIdx])
		exps[i] = expNonPositive(shifted)
		total += int64(exps[i])
		if exps[i] > 0 {
			nonZero++
		}
	}

	out := make([]Q16, len(xs))
	var assigned int64
	for i, e := range exps {
		out[i] = Q16(int64(e) * int64(One) / total)
		assigned += int64(out[i])
	}
	out[maxIdx] += Q16(int64(One) - assigned)

	switch {
	case uniform:
		return out, SoftmaxUniform, nil
	case nonZero == 1 && len(xs) > 1:
		return out, SoftmaxDegenerate, nil
	}
	return out, SoftmaxNormal, nil
}

// expNonPositive evaluates e^x for x <= 0 by range reduction x = r - k*ln2 with
// r in (-ln2, 0], a fixed ten-term Taylor series for e^r and a shift by k.
func expNonPositive(x Q16) Q16 {
	if x > 0 {
		x = 0
	}
	if x < expCutoff {
		return 0
	}
	k := int64(-x) / int64(ln2Q16)
	r := x + Q16(k)*ln2Q16

	sum, term := One, One
	for i := int64(1); i <= 10; i++ {
		term, _ = Mul(term, r)
		term = Q16(int64(term) / i)
		sum += term
	}
	if k >= 63 {
		return 0
	}
	return sum >> uint(k)
}

// #endregion softmax
