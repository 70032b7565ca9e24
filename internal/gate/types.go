package gate

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/fixedpoint"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
)

// #region metrics
// Metrics are the nine raw quality-precheck scalars for one build request.
type Metrics struct {
	ThetaSpanDeg       float64
	PhiSpanDeg         float64
	L2PlusCount        int64
	L3Count            int64
	ReprojRMSPx        float64
	EdgeRMSPx          float64
	Sharpness          float64
	OverexposureRatio  float64
	UnderexposureRatio float64
}

// #endregion metrics

// #region reason-code
// ReasonCode is the closed set of per-metric validation failures.
type ReasonCode uint8

const (
	ReasonNone ReasonCode = iota
	ReasonThetaSpanNonFinite
	ReasonThetaSpanNegative
	ReasonPhiSpanNonFinite
	ReasonPhiSpanNegative
	ReasonL2PlusCountNegative
	ReasonL3CountNegative
	ReasonReprojRMSNonFinite
	ReasonReprojRMSNegative
	ReasonEdgeRMSNonFinite
	ReasonEdgeRMSNegative
	ReasonSharpnessNonFinite
	ReasonSharpnessNegative
	ReasonOverexposureNonFinite
	ReasonOverexposureOutOfRange
	ReasonUnderexposureNonFinite
	ReasonUnderexposureOutOfRange
	ReasonMultipleFailures
)

var reasonNames = [...]string{
	ReasonNone:                    "none",
	ReasonThetaSpanNonFinite:      "theta_span_non_finite",
	ReasonThetaSpanNegative:       "theta_span_negative",
	ReasonPhiSpanNonFinite:        "phi_span_non_finite",
	ReasonPhiSpanNegative:         "phi_span_negative",
	ReasonL2PlusCountNegative:     "l2_plus_count_negative",
	ReasonL3CountNegative:         "l3_count_negative",
	ReasonReprojRMSNonFinite:      "reproj_rms_non_finite",
	ReasonReprojRMSNegative:       "reproj_rms_negative",
	ReasonEdgeRMSNonFinite:        "edge_rms_non_finite",
	ReasonEdgeRMSNegative:         "edge_rms_negative",
	ReasonSharpnessNonFinite:      "sharpness_non_finite",
	ReasonSharpnessNegative:       "sharpness_negative",
	ReasonOverexposureNonFinite:   "overexposure_non_finite",
	ReasonOverexposureOutOfRange:  "overexposure_out_of_range",
	ReasonUnderexposureNonFinite:  "underexposure_non_finite",
	ReasonUnderexposureOutOfRange: "underexposure_out_of_range",
	ReasonMultipleFailures:        "multiple_failures",
}

func (r ReasonCode) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// MarshalText encodes the reason name.
func (r ReasonCode) MarshalText() ([]byte, error) {
	if int(r) >= len(reasonNames) {
		return nil, fmt.Errorf("gate: unregistered reason %d", uint8(r))
	}
	return []byte(reasonNames[r]), nil
}

// UnmarshalText decodes a reason name. Unregistered names are an error.
func (r *ReasonCode) UnmarshalText(b []byte) error {
	for i, name := range reasonNames {
		if name == string(b) {
			*r = ReasonCode(i)
			return nil
		}
	}
	return fmt.Errorf("gate: unknown reason %q", b)
}

// #endregion reason-code

// #region validation-result
// InvalidReason is either a single failure (Failures empty) or
// ReasonMultipleFailures with every failure in detection order.
type InvalidReason struct {
	Code     ReasonCode   `json:"code"`
	Failures []ReasonCode `json:"failures,omitempty"`
}

func (r InvalidReason) String() string {
	if r.Code != ReasonMultipleFailures {
		return r.Code.String()
	}
	parts := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		parts[i] = f.String()
	}
	return r.Code.String() + "[" + strings.Join(parts, ",") + "]"
}

// ValidatedInputs holds the nine metrics after every check has passed. It
// can only be built by Validate.
type ValidatedInputs struct {
	thetaSpanDeg       float64
	phiSpanDeg         float64
	l2PlusCount        int64
	l3Count            int64
	reprojRMSPx        float64
	edgeRMSPx          float64
	sharpness          float64
	overexposureRatio  float64
	underexposureRatio float64
}

func (v ValidatedInputs) ThetaSpanDeg() float64       { return v.thetaSpanDeg }
func (v ValidatedInputs) PhiSpanDeg() float64         { return v.phiSpanDeg }
func (v ValidatedInputs) L2PlusCount() int64          { return v.l2PlusCount }
func (v ValidatedInputs) L3Count() int64              { return v.l3Count }
func (v ValidatedInputs) ReprojRMSPx() float64        { return v.reprojRMSPx }
func (v ValidatedInputs) EdgeRMSPx() float64          { return v.edgeRMSPx }
func (v ValidatedInputs) Sharpness() float64          { return v.sharpness }
func (v ValidatedInputs) OverexposureRatio() float64  { return v.overexposureRatio }
func (v ValidatedInputs) UnderexposureRatio() float64 { return v.underexposureRatio }

// Metrics returns the validated values as a plain Metrics.
func (v ValidatedInputs) Metrics() Metrics {
	return Metrics{
		ThetaSpanDeg:       v.thetaSpanDeg,
		PhiSpanDeg:         v.phiSpanDeg,
		L2PlusCount:        v.l2PlusCount,
		L3Count:            v.l3Count,
		ReprojRMSPx:        v.reprojRMSPx,
		EdgeRMSPx:          v.edgeRMSPx,
		Sharpness:          v.sharpness,
		OverexposureRatio:  v.overexposureRatio,
		UnderexposureRatio: v.underexposureRatio,
	}
}

// ValidationResult is valid (Inputs set) or invalid (Reason set). The
// fallback quality is always computed so callers can continue degraded.
type ValidationResult struct {
	Valid    bool
	Inputs   ValidatedInputs
	Reason   InvalidReason
	Fallback fixedpoint.Q16
}

// #endregion validation-result

// #region evaluation
// Evaluation is the outcome of Gate.Evaluate.
type Evaluation struct {
	Result  ValidationResult
	Quality fixedpoint.Q16 // gate quality, or the fallback when invalid
	Token   trace.Token    // GatePass or GateFallback
}

// #endregion evaluation
