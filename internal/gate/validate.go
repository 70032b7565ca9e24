package gate

import "math"

// #region validate
// Validate runs every check independently and collects all failures in
// detection order: theta span, phi span, counts, reprojection RMS, edge RMS,
// sharpness, overexposure, underexposure.
func Validate(m Metrics, p PolicyConstants) ValidationResult {
	var failures []ReasonCode
	fail := func(r ReasonCode) { failures = append(failures, r) }

	checkNonNegative(m.ThetaSpanDeg, ReasonThetaSpanNonFinite, ReasonThetaSpanNegative, fail)
	checkNonNegative(m.PhiSpanDeg, ReasonPhiSpanNonFinite, ReasonPhiSpanNegative, fail)
	if m.L2PlusCount < 0 {
		fail(ReasonL2PlusCountNegative)
	}
	if m.L3Count < 0 {
		fail(ReasonL3CountNegative)
	}
	checkNonNegative(m.ReprojRMSPx, ReasonReprojRMSNonFinite, ReasonReprojRMSNegative, fail)
	checkNonNegative(m.EdgeRMSPx, ReasonEdgeRMSNonFinite, ReasonEdgeRMSNegative, fail)
	checkNonNegative(m.Sharpness, ReasonSharpnessNonFinite, ReasonSharpnessNegative, fail)
	checkUnit(m.OverexposureRatio, ReasonOverexposureNonFinite, ReasonOverexposureOutOfRange, fail)
	checkUnit(m.UnderexposureRatio, ReasonUnderexposureNonFinite, ReasonUnderexposureOutOfRange, fail)

	res := ValidationResult{Fallback: FallbackQuality(p)}
	switch len(failures) {
	case 0:
		res.Valid = true
		res.Inputs = ValidatedInputs{
			thetaSpanDeg:       m.ThetaSpanDeg,
			phiSpanDeg:         m.PhiSpanDeg,
			l2PlusCount:        m.L2PlusCount,
			l3Count:            m.L3Count,
			reprojRMSPx:        m.ReprojRMSPx,
			edgeRMSPx:          m.EdgeRMSPx,
			sharpness:          m.Sharpness,
			overexposureRatio:  m.OverexposureRatio,
			underexposureRatio: m.UnderexposureRatio,
		}
	case 1:
		res.Reason = InvalidReason{Code: failures[0]}
	default:
		res.Reason = InvalidReason{Code: ReasonMultipleFailures, Failures: failures}
	}
	return res
}

func checkNonNegative(v float64, nonFinite, negative ReasonCode, fail func(ReasonCode)) {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		fail(nonFinite)
	case v < 0:
		fail(negative)
	}
}

func checkUnit(v float64, nonFinite, outOfRange ReasonCode, fail func(ReasonCode)) {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		fail(nonFinite)
	case v < 0 || v > 1:
		fail(outOfRange)
	}
}

// #endregion validate
