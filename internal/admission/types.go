// Package admission maps the current load signal and the gate's verdict to a
// capacity regime and an admit/reject decision. Every regime transition and
// every decision is committed to the write-ahead log and recorded into the
// path trace before Decide returns.
package admission

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/fixedpoint"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

var (
	// ErrUnknownMode is returned for a request mode outside the closed set.
	ErrUnknownMode = errors.New("admission: unknown build mode")
	// ErrInvalidLoad is returned for a NaN load signal.
	ErrInvalidLoad = errors.New("admission: load signal is not a number")
	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("admission: invalid config")
)

// #region mode
// Mode is the requested build mode.
type Mode uint8

const (
	ModeEnter Mode = iota + 1
	ModePublish
	ModeFailSoft
)

var modeNames = map[Mode]string{
	ModeEnter:    "enter",
	ModePublish:  "publish",
	ModeFailSoft: "fail_soft",
}

// ParseMode resolves a mode name.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// admitToken is the trace token for admitting a request in mode m.
func (m Mode) admitToken() trace.Token {
	switch m {
	case ModeEnter:
		return trace.GateAdmitEnter
	case ModePublish:
		return trace.GateAdmitPublish
	default:
		return trace.GateAdmitFailSoft
	}
}

// #endregion mode

// #region regime
// Regime is the capacity regime. Higher values are more restrictive.
type Regime uint8

const (
	RegimeNormal Regime = iota
	RegimeDamping
	RegimeSaturated
)

var regimeNames = [...]string{"normal", "damping", "saturated"}

// ParseRegime resolves a regime name.
func ParseRegime(s string) (Regime, error) {
	for i, name := range regimeNames {
		if name == s {
			return Regime(i), nil
		}
	}
	return 0, fmt.Errorf("admission: unknown regime %q", s)
}

func (r Regime) String() string {
	if int(r) < len(regimeNames) {
		return regimeNames[r]
	}
	return fmt.Sprintf("regime(%d)", uint8(r))
}

func (r Regime) MarshalText() ([]byte, error) {
	if int(r) >= len(regimeNames) {
		return nil, fmt.Errorf("admission: unknown regime %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Regime) UnmarshalText(b []byte) error {
	v, err := ParseRegime(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Token is the health token recorded when entering r.
func (r Regime) Token() trace.Token {
	switch r {
	case RegimeDamping:
		return trace.HealthDamping
	case RegimeSaturated:
		return trace.HealthSaturated
	default:
		return trace.HealthNormal
	}
}

// #endregion regime

// #region config
// Config holds the admission thresholds. Loads are utilization fractions.
type Config struct {
	DampingThreshold   float64 `json:"damping_threshold" yaml:"damping_threshold" toml:"damping_threshold"`
	SaturatedThreshold float64 `json:"saturated_threshold" yaml:"saturated_threshold" toml:"saturated_threshold"`
	// Hysteresis is how far load must fall below a threshold before the
	// regime relaxes.
	Hysteresis float64 `json:"hysteresis" yaml:"hysteresis" toml:"hysteresis"`
	// DampingMargin is the quality required above the fallback while damping.
	DampingMargin float64 `json:"damping_margin" yaml:"damping_margin" toml:"damping_margin"`
	// LoadWindow is the number of samples whose median is the effective load.
	LoadWindow int `json:"load_window" yaml:"load_window" toml:"load_window"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DampingThreshold:   0.70,
		SaturatedThreshold: 0.90,
		Hysteresis:         0.05,
		DampingMargin:      0.10,
		LoadWindow:         1,
	}
}

// Validate checks threshold ordering and ranges.
func (c Config) Validate() error {
	fractions := []struct {
		name string
		v    float64
	}{
		{"damping_threshold", c.DampingThreshold},
		{"saturated_threshold", c.SaturatedThreshold},
		{"hysteresis", c.Hysteresis},
		{"damping_margin", c.DampingMargin},
	}
	for _, f := range fractions {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: %s=%v not in [0, 1]", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.DampingThreshold >= c.SaturatedThreshold {
		return fmt.Errorf("%w: damping_threshold %v must be below saturated_threshold %v",
			ErrInvalidConfig, c.DampingThreshold, c.SaturatedThreshold)
	}
	if c.Hysteresis > c.DampingThreshold {
		return fmt.Errorf("%w: hysteresis %v exceeds damping_threshold %v", ErrInvalidConfig, c.Hysteresis, c.DampingThreshold)
	}
	if c.LoadWindow < 1 {
		return fmt.Errorf("%w: load_window %d must be at least 1", ErrInvalidConfig, c.LoadWindow)
	}
	return nil
}

// #endregion config

// #region request-decision
// Request is one build request. JobID must be a canonical UUID.
type Request struct {
	JobID   string       `json:"job_id"`
	Mode    Mode         `json:"mode"`
	Load    float64      `json:"load"`
	Metrics gate.Metrics `json:"metrics"`

	// Trace, when set, receives the decision's tokens instead of a fresh
	// per-request trace. Replays use it to fold a whole session.
	Trace *trace.PathTrace `json:"-"`
}

// Transition is a regime change caused by a request.
type Transition struct {
	From  Regime
	To    Regime
	Entry wal.Entry
}

// Decision is the committed outcome of a request.
type Decision struct {
	JobID         uuid.UUID
	RequestedMode Mode
	// EffectiveMode is the mode actually admitted; zero when rejected.
	EffectiveMode  Mode
	Regime         Regime
	Admitted       bool
	Token          trace.Token
	Evaluation     gate.Evaluation
	Load           fixedpoint.Q16
	Transition     *Transition
	Entry          wal.Entry
	TraceSignature uint64
}

// #endregion request-decision
