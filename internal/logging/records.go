package logging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
)

// #region record-kind
// RecordKind discriminates WAL payloads.
type RecordKind string

const (
	KindDecision   RecordKind = "decision"
	KindTransition RecordKind = "transition"
)

// Record is any WAL payload written by the admission controller.
type Record interface {
	RecordKind() RecordKind
}

// #endregion record-kind

// #region decision-record
// DecisionRecord is the WAL payload for one admit/reject decision. It holds
// everything needed to replay the request.
type DecisionRecord struct {
	Kind           RecordKind          `json:"kind"`
	JobID          string              `json:"job_id"`
	RequestedMode  string              `json:"requested_mode"`
	EffectiveMode  string              `json:"effective_mode,omitempty"`
	Regime         string              `json:"regime"`
	Admitted       bool                `json:"admitted"`
	Token          trace.Token         `json:"token"`
	GateToken      trace.Token         `json:"gate_token"`
	Metrics        gate.Metrics        `json:"metrics"`
	Valid          bool                `json:"valid"`
	Reason         *gate.InvalidReason `json:"reason,omitempty"`
	QualityQ16     int64               `json:"quality_q16"`
	FallbackQ16    int64               `json:"fallback_q16"`
	Load           float64             `json:"load"`
	LoadQ16        int64               `json:"load_q16"`
	PolicyTier     string              `json:"policy_tier"`
	PolicyEpoch    int64               `json:"policy_epoch"`
	TraceSignature string              `json:"trace_signature"`
	DecidedAt      time.Time           `json:"decided_at"`
}

func (DecisionRecord) RecordKind() RecordKind { return KindDecision }

// MarshalZerologObject lets a decision be embedded in a log event.
func (d DecisionRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("job_id", d.JobID).
		Str("mode", d.RequestedMode).
		Str("regime", d.Regime).
		Bool("admitted", d.Admitted).
		Stringer("token", d.Token).
		Bool("valid", d.Valid).
		Int64("quality_q16", d.QualityQ16).
		Int64("load_q16", d.LoadQ16).
		Str("trace_signature", d.TraceSignature)
	if d.EffectiveMode != "" && d.EffectiveMode != d.RequestedMode {
		e.Str("effective_mode", d.EffectiveMode)
	}
	if d.Reason != nil {
		e.Stringer("reason", d.Reason)
	}
}

// #endregion decision-record

// #region transition-record
// TransitionRecord is the WAL payload for a capacity regime change.
type TransitionRecord struct {
	Kind    RecordKind  `json:"kind"`
	JobID   string      `json:"job_id"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	LoadQ16 int64       `json:"load_q16"`
	Token   trace.Token `json:"token"`
	At      time.Time   `json:"at"`
}

func (TransitionRecord) RecordKind() RecordKind { return KindTransition }

// MarshalZerologObject lets a transition be embedded in a log event.
func (t TransitionRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("job_id", t.JobID).
		Str("from", t.From).
		Str("to", t.To).
		Int64("load_q16", t.LoadQ16).
		Stringer("token", t.Token)
}

// #endregion transition-record

// #region codec
// EncodeRecord marshals r with its kind field filled in.
func EncodeRecord(r Record) ([]byte, error) {
	switch v := r.(type) {
	case DecisionRecord:
		v.Kind = KindDecision
		return json.Marshal(v)
	case *DecisionRecord:
		c := *v
		c.Kind = KindDecision
		return json.Marshal(c)
	case TransitionRecord:
		v.Kind = KindTransition
		return json.Marshal(v)
	case *TransitionRecord:
		c := *v
		c.Kind = KindTransition
		return json.Marshal(c)
	default:
		return nil, fmt.Errorf("encode record: unsupported type %T", r)
	}
}

// DecodeRecord decodes a WAL payload into a DecisionRecord or TransitionRecord.
func DecodeRecord(b []byte) (Record, error) {
	var head struct {
		Kind RecordKind `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode record kind: %w", err)
	}
	switch head.Kind {
	case KindDecision:
		var d DecisionRecord
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		return d, nil
	case KindTransition:
		var t TransitionRecord
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("decode transition: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("decode record: unknown kind %q", head.Kind)
	}
}

// #endregion codec
