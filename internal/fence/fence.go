// Package fence clamps out-of-bound Q16 values. Ordinary fields are clamped
// silently; Tier-0 fields are clamped too, but the overflow is reported to a
// violation sink and returned as a fail-closed error.
package fence

import (
	"fmt"
	"slices"
	"time"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/clock"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fixedpoint"
)

// #region fields
// Field names a fenced quantity.
type Field string

// Tier-0 fields: overflow here must never be silently tolerated.
const (
	FieldGateQuality   Field = "gate_quality"
	FieldFusedDepth    Field = "fused_depth"
	FieldHealthScore   Field = "health_score"
	FieldAdmissionLoad Field = "admission_load"
)

var tier0 = map[Field]struct{}{
	FieldGateQuality:   {},
	FieldFusedDepth:    {},
	FieldHealthScore:   {},
	FieldAdmissionLoad: {},
}

// IsTier0 reports whether field belongs to the closed Tier-0 set.
func IsTier0(field Field) bool {
	_, ok := tier0[field]
	return ok
}

// Tier0Fields lists the Tier-0 set in sorted order.
func Tier0Fields() []Field {
	out := make([]Field, 0, len(tier0))
	for f := range tier0 {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// #endregion fields

// #region direction
// Direction says which side of the bound is out of range.
type Direction uint8

const (
	// Upper means values above the bound overflow.
	Upper Direction = iota
	// Lower means values below the bound overflow.
	Lower
)

func (d Direction) String() string {
	if d == Lower {
		return "lower"
	}
	return "upper"
}

// exceeds reports whether value is past bound in direction d.
func (d Direction) exceeds(value, bound fixedpoint.Q16) bool {
	if d == Lower {
		return value < bound
	}
	return value > bound
}

// #endregion direction

// #region fence
// Violation describes one Tier-0 overflow.
type Violation struct {
	Field     Field
	Value     fixedpoint.Q16
	Bound     fixedpoint.Q16
	Direction Direction
	At        time.Time
}

// Fence applies the overflow policy.
type Fence struct {
	sink  Sink
	clock clock.Provider
}

// Option configures a Fence.
type Option func(*Fence)

// WithClock sets the time provider used to stamp violations.
func WithClock(c clock.Provider) Option {
	return func(f *Fence) { f.clock = c }
}

// New creates a fence reporting Tier-0 violations to sink. A nil sink discards them.
func New(sink Sink, opts ...Option) *Fence {
	if sink == nil {
		sink = discardSink{}
	}
	f := &Fence{sink: sink, clock: clock.System{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HandleOverflow clamps value to bound when it lies past bound in direction.
// For a Tier-0 field the clamp is accompanied by a sink report and a
// CodeLimiterArithmeticOverflow error; the clamped value is still returned so
// the caller can continue in a degraded mode if it chooses to.
func (f *Fence) HandleOverflow(field Field, value, bound fixedpoint.Q16, direction Direction) (fixedpoint.Q16, error) {
	if !direction.exceeds(value, bound) {
		return value, nil
	}
	if !IsTier0(field) {
		return bound, nil
	}
	v := Violation{
		Field:     field,
		Value:     value,
		Bound:     bound,
		Direction: direction,
		At:        f.clock.Now(),
	}
	f.sink.ReportViolation(v)
	return bound, failclosed.Newf(failclosed.CodeLimiterArithmeticOverflow,
		"%s %s bound exceeded: %d vs %d", field, direction, value, bound)
}

// Range fences value into [lo, hi].
func (f *Fence) Range(field Field, value, lo, hi fixedpoint.Q16) (fixedpoint.Q16, error) {
	v, err := f.HandleOverflow(field, value, hi, Upper)
	if err != nil {
		return v, err
	}
	return f.HandleOverflow(field, v, lo, Lower)
}

// Add is fixedpoint.Add with overflow routed through the fence.
func (f *Fence) Add(field Field, a, b fixedpoint.Q16) (fixedpoint.Q16, error) {
	return f.checked(field, "add", a, b, fixedpoint.Add)
}

// Mul is fixedpoint.Mul with overflow routed through the fence.
func (f *Fence) Mul(field Field, a, b fixedpoint.Q16) (fixedpoint.Q16, error) {
	return f.checked(field, "mul", a, b, fixedpoint.Mul)
}

// Div is fixedpoint.Div with overflow routed through the fence.
func (f *Fence) Div(field Field, a, b fixedpoint.Q16) (fixedpoint.Q16, error) {
	return f.checked(field, "div", a, b, fixedpoint.Div)
}

func (f *Fence) checked(field Field, op string, a, b fixedpoint.Q16, fn func(a, b fixedpoint.Q16) (fixedpoint.Q16, bool)) (fixedpoint.Q16, error) {
	r, overflow := fn(a, b)
	if !overflow {
		return r, nil
	}
	direction := Upper
	if r == fixedpoint.MinQ16 {
		direction = Lower
	}
	if !IsTier0(field) {
		return r, nil
	}
	f.sink.ReportViolation(Violation{
		Field:     field,
		Value:     r,
		Bound:     r,
		Direction: direction,
		At:        f.clock.Now(),
	})
	return r, fmt.Errorf("%s %d, %d: %w", op, a, b,
		failclosed.Newf(failclosed.CodeLimiterArithmeticOverflow, "%s saturated %s", field, direction))
}

// #endregion fence
