package trace

import "fmt"

// WhitelistVersion identifies the token table below. Raw values are part of
// the golden fixtures and must not be renumbered.
const WhitelistVersion = 1

// #region category
// Category partitions the token space into fixed ranges.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryGate
	CategoryOverflow
	CategorySoftmax
	CategoryHealth
	CategoryCalibration
	CategoryMAD
	CategoryLifecycle
)

var categoryNames = [...]string{"unknown", "gate", "overflow", "softmax", "health", "calibration", "mad", "lifecycle"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// #endregion category

// #region token
// Token is a single whitelisted branch decision.
type Token uint8

// Unknown is the reserved tag. It is never appended to a trace.
const Unknown Token = 0x00

const unknownName = "unknown"

// Gate decisions, including admission outcomes.
const (
	GatePass            Token = 0x01
	GateFallback        Token = 0x02
	GateAdmitEnter      Token = 0x03
	GateAdmitPublish    Token = 0x04
	GateAdmitFailSoft   Token = 0x05
	GateRejectDamping   Token = 0x06
	GateRejectSaturated Token = 0x07
)

// Overflow decisions.
const (
	OverflowNone    Token = 0x10
	OverflowClamped Token = 0x11
	OverflowTier0   Token = 0x12
)

// Softmax decisions.
const (
	SoftmaxNormal     Token = 0x20
	SoftmaxUniform    Token = 0x21
	SoftmaxDegenerate Token = 0x22
)

// Health decisions; the capacity regimes live here.
const (
	HealthNormal    Token = 0x30
	HealthDamping   Token = 0x31
	HealthSaturated Token = 0x32
)

// Calibration decisions.
const (
	CalibrationFresh Token = 0x40
	CalibrationStale Token = 0x41
)

// MAD state.
const (
	MADStable       Token = 0x50
	MADVolatile     Token = 0x51
	MADInsufficient Token = 0x52
)

// Frame and session lifecycle.
const (
	FrameBegin   Token = 0x60
	FrameEnd     Token = 0x61
	SessionBegin Token = 0x62
	SessionEnd   Token = 0x63
)

var tokenNames = map[Token]string{
	GatePass:            "gate.pass",
	GateFallback:        "gate.fallback",
	GateAdmitEnter:      "gate.admit_enter",
	GateAdmitPublish:    "gate.admit_publish",
	GateAdmitFailSoft:   "gate.admit_fail_soft",
	GateRejectDamping:   "gate.reject_damping",
	GateRejectSaturated: "gate.reject_saturated",
	OverflowNone:        "overflow.none",
	OverflowClamped:     "overflow.clamped",
	OverflowTier0:       "overflow.tier0",
	SoftmaxNormal:       "softmax.normal",
	SoftmaxUniform:      "softmax.uniform",
	SoftmaxDegenerate:   "softmax.degenerate",
	HealthNormal:        "health.normal",
	HealthDamping:       "health.damping",
	HealthSaturated:     "health.saturated",
	CalibrationFresh:    "calibration.fresh",
	CalibrationStale:    "calibration.stale",
	MADStable:           "mad.stable",
	MADVolatile:         "mad.volatile",
	MADInsufficient:     "mad.insufficient",
	FrameBegin:          "lifecycle.frame_begin",
	FrameEnd:            "lifecycle.frame_end",
	SessionBegin:        "lifecycle.session_begin",
	SessionEnd:          "lifecycle.session_end",
}

var tokensByName = func() map[string]Token {
	m := make(map[string]Token, len(tokenNames))
	for tok, name := range tokenNames {
		m[name] = tok
	}
	return m
}()

// Known reports whether t is in the whitelist.
func (t Token) Known() bool {
	_, ok := tokenNames[t]
	return ok
}

// Category returns the range t belongs to, or CategoryUnknown.
func (t Token) Category() Category {
	if !t.Known() {
		return CategoryUnknown
	}
	if t < 0x10 {
		return CategoryGate
	}
	return Category(t>>4) + CategoryOverflow - 1
}

// FromRaw maps a raw byte onto the whitelist; anything else becomes Unknown.
func FromRaw(raw byte) Token {
	if t := Token(raw); t.Known() {
		return t
	}
	return Unknown
}

// ParseToken resolves a dotted token name.
func ParseToken(name string) (Token, error) {
	if t, ok := tokensByName[name]; ok {
		return t, nil
	}
	return Unknown, fmt.Errorf("trace: unknown token name %q", name)
}

func (t Token) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	if t == Unknown {
		return unknownName
	}
	return fmt.Sprintf("unknown(0x%02X)", uint8(t))
}

// MarshalText encodes the dotted name. Values outside the whitelist encode
// as "unknown(0xNN)" and do not decode.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a dotted name or "unknown"; any other name is an error.
func (t *Token) UnmarshalText(b []byte) error {
	if string(b) == unknownName {
		*t = Unknown
		return nil
	}
	tok, err := ParseToken(string(b))
	if err != nil {
		return err
	}
	*t = tok
	return nil
}

// #endregion token
