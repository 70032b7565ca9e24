package gate

import (
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fixedpoint"
)

// #region policy
// PolicyConstants is the per-tier quality policy. Gains are fractions in
// [0, 1]; targets and maxima must be positive.
type PolicyConstants struct {
	Tier          failclosed.TierID `json:"tier" yaml:"tier" toml:"tier"`
	Epoch         int64             `json:"epoch" yaml:"epoch" toml:"epoch"`
	SchemaVersion uint16            `json:"schema_version" yaml:"schema_version" toml:"schema_version"`

	MinViewGain  float64 `json:"min_view_gain" yaml:"min_view_gain" toml:"min_view_gain"`
	MinGeomGain  float64 `json:"min_geom_gain" yaml:"min_geom_gain" toml:"min_geom_gain"`
	MinBasicGain float64 `json:"min_basic_gain" yaml:"min_basic_gain" toml:"min_basic_gain"`

	ThetaTargetDeg  float64 `json:"theta_target_deg" yaml:"theta_target_deg" toml:"theta_target_deg"`
	PhiTargetDeg    float64 `json:"phi_target_deg" yaml:"phi_target_deg" toml:"phi_target_deg"`
	TargetL3Count   int64   `json:"target_l3_count" yaml:"target_l3_count" toml:"target_l3_count"`
	MaxReprojRMSPx  float64 `json:"max_reproj_rms_px" yaml:"max_reproj_rms_px" toml:"max_reproj_rms_px"`
	MaxEdgeRMSPx    float64 `json:"max_edge_rms_px" yaml:"max_edge_rms_px" toml:"max_edge_rms_px"`
	SharpnessTarget float64 `json:"sharpness_target" yaml:"sharpness_target" toml:"sharpness_target"`
}

// DefaultPolicy returns the built-in policy for the default tier.
func DefaultPolicy() PolicyConstants {
	return PolicyConstants{
		Tier:            "default",
		Epoch:           1,
		SchemaVersion:   failclosed.EpochEnforcedSchemaVersion,
		MinViewGain:     0.50,
		MinGeomGain:     0.40,
		MinBasicGain:    0.60,
		ThetaTargetDeg:  120,
		PhiTargetDeg:    60,
		TargetL3Count:   8,
		MaxReprojRMSPx:  2.0,
		MaxEdgeRMSPx:    1.5,
		SharpnessTarget: 100,
	}
}

// ErrInvalidPolicy wraps every policy validation failure.
var ErrInvalidPolicy = errors.New("gate: invalid policy")

// Validate checks the policy table itself.
func (p PolicyConstants) Validate() error {
	if p.Tier == "" {
		return fmt.Errorf("%w: empty tier", ErrInvalidPolicy)
	}
	if p.Epoch < 0 {
		return fmt.Errorf("%w: negative epoch %d", ErrInvalidPolicy, p.Epoch)
	}
	gains := []struct {
		name string
		v    float64
	}{
		{"min_view_gain", p.MinViewGain},
		{"min_geom_gain", p.MinGeomGain},
		{"min_basic_gain", p.MinBasicGain},
	}
	for _, g := range gains {
		if math.IsNaN(g.v) || g.v < 0 || g.v > 1 {
			return fmt.Errorf("%w: %s=%v not in [0, 1]", ErrInvalidPolicy, g.name, g.v)
		}
	}
	targets := []struct {
		name string
		v    float64
	}{
		{"theta_target_deg", p.ThetaTargetDeg},
		{"phi_target_deg", p.PhiTargetDeg},
		{"target_l3_count", float64(p.TargetL3Count)},
		{"max_reproj_rms_px", p.MaxReprojRMSPx},
		{"max_edge_rms_px", p.MaxEdgeRMSPx},
		{"sharpness_target", p.SharpnessTarget},
	}
	for _, t := range targets {
		if math.IsNaN(t.v) || math.IsInf(t.v, 0) || t.v <= 0 {
			return fmt.Errorf("%w: %s=%v must be positive and finite", ErrInvalidPolicy, t.name, t.v)
		}
	}
	return nil
}

// #endregion policy

// #region quality
// Component weights in Q16: 0.40 view, 0.45 geometry, 0.15 basic. They sum
// to exactly One; geometry carries the rounding ulp.
const (
	weightView  fixedpoint.Q16 = 26214
	weightGeom  fixedpoint.Q16 = 29492
	weightBasic fixedpoint.Q16 = 9830
)

// FallbackQuality is the quality reported for invalid input: the weighted
// combination of the three minimum gains. Every valid input scores at least
// this much under the same policy.
func FallbackQuality(p PolicyConstants) fixedpoint.Q16 {
	q, _ := weighted(
		q16(p.MinViewGain),
		q16(p.MinGeomGain),
		q16(p.MinBasicGain),
	)
	return q
}

// Quality scores validated inputs. Each component gain is
// min + (1-min)*score with score in [0, 1], so the result never drops
// below FallbackQuality. The weighted sum is fenced as Tier-0 gate_quality.
func Quality(in ValidatedInputs, p PolicyConstants, f *fence.Fence) (fixedpoint.Q16, error) {
	view := average(
		ratio(in.thetaSpanDeg, p.ThetaTargetDeg),
		ratio(in.phiSpanDeg, p.PhiTargetDeg),
	)
	// L2+ coverage is targeted at twice the L3 count.
	geom := average(
		ratio(float64(in.l3Count), float64(p.TargetL3Count)),
		ratio(float64(in.l2PlusCount), 2*float64(p.TargetL3Count)),
		inverse(in.reprojRMSPx, p.MaxReprojRMSPx),
		inverse(in.edgeRMSPx, p.MaxEdgeRMSPx),
	)
	basic := average(
		ratio(in.sharpness, p.SharpnessTarget),
		fixedpoint.One-fixedpoint.Clamp(q16(in.overexposureRatio), 0, fixedpoint.One),
		fixedpoint.One-fixedpoint.Clamp(q16(in.underexposureRatio), 0, fixedpoint.One),
	)

	q, overflow := weighted(
		gain(q16(p.MinViewGain), view),
		gain(q16(p.MinGeomGain), geom),
		gain(q16(p.MinBasicGain), basic),
	)
	if overflow {
		return f.HandleOverflow(fence.FieldGateQuality, fixedpoint.MaxQ16, fixedpoint.One, fence.Upper)
	}
	return f.Range(fence.FieldGateQuality, q, 0, fixedpoint.One)
}

func weighted(view, geom, basic fixedpoint.Q16) (fixedpoint.Q16, bool) {
	a, o1 := fixedpoint.Mul(weightView, view)
	b, o2 := fixedpoint.Mul(weightGeom, geom)
	c, o3 := fixedpoint.Mul(weightBasic, basic)
	ab, o4 := fixedpoint.Add(a, b)
	sum, o5 := fixedpoint.Add(ab, c)
	return sum, o1 || o2 || o3 || o4 || o5
}

func gain(minimum, score fixedpoint.Q16) fixedpoint.Q16 {
	headroom, _ := fixedpoint.Mul(fixedpoint.One-minimum, score)
	return minimum + headroom
}

func q16(f float64) fixedpoint.Q16 {
	q, _ := fixedpoint.FromFloat(f)
	return q
}

// ratio is value/target clamped to [0, 1].
func ratio(value, target float64) fixedpoint.Q16 {
	r, _ := fixedpoint.Div(q16(value), q16(target))
	return fixedpoint.Clamp(r, 0, fixedpoint.One)
}

// inverse is 1 - value/max clamped to [0, 1].
func inverse(value, maximum float64) fixedpoint.Q16 {
	return fixedpoint.One - ratio(value, maximum)
}

// average of values already in [0, 1]; the sum cannot overflow.
func average(xs ...fixedpoint.Q16) fixedpoint.Q16 {
	var sum int64
	for _, x := range xs {
		sum += int64(x)
	}
	return fixedpoint.Q16(sum / int64(len(xs)))
}

// #endregion quality
