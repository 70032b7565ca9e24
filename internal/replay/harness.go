// Package replay re-runs a recorded request sequence through a fresh gate,
// admission controller and in-memory WAL, and checks that the outcomes and
// the session path signature match what was recorded.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/admission"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/clock"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

// #region types

// Epoch stamps every record written during a replay.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Result is the observed outcome of one request.
type Result struct {
	JobID         string
	Regime        admission.Regime
	Admitted      bool
	EffectiveMode string
	Token         trace.Token
	QualityQ16    int64
	Seq           uint64
	// Error is the fail-closed code name for a refused request.
	Error string
}

// Run is everything a replay produced.
type Run struct {
	Results    []Result
	Decisions  []admission.Decision
	Entries    []wal.Entry
	Violations []fence.Violation
	Trace      *trace.PathTrace
	Signature  uint64
}

// Summary aggregates a run.
type Summary struct {
	Total       int
	Admitted    int
	Rejected    int
	FailSoft    int
	Refused     int
	Transitions int
	FinalRegime admission.Regime
	Signature   string
}

// Mismatch is one difference between a fixture and a run.
type Mismatch struct {
	Index int
	JobID string
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	if m.Index < 0 {
		return fmt.Sprintf("%s: want %s, got %s", m.Field, m.Want, m.Got)
	}
	return fmt.Sprintf("request %d (%s) %s: want %s, got %s", m.Index, m.JobID, m.Field, m.Want, m.Got)
}

// #endregion types

// #region replay

// Replay runs every request of f in order. Fail-closed refusals are recorded
// as results; any other error aborts the run.
func Replay(f Fixture) (Run, error) {
	registry := failclosed.NewPolicyEpochRegistry()
	sink := &fence.MemorySink{}
	fixed := clock.Fixed{T: Epoch}
	fn := fence.New(sink, fence.WithClock(fixed))

	g, err := gate.NewGate(f.Policy, registry, fn)
	if err != nil {
		return Run{}, fmt.Errorf("replay gate: %w", err)
	}
	log, err := wal.Open(wal.NewMemoryBackend(), wal.WithClock(fixed))
	if err != nil {
		return Run{}, fmt.Errorf("replay wal: %w", err)
	}
	defer log.Close()

	// Each request records at most a transition and a decision token.
	session := trace.New(trace.WithCapacity(2*len(f.Requests) + 2))
	ctl, err := admission.New(g, log, fn, f.Admission,
		admission.WithClock(fixed),
		admission.WithTraceCapacity(session.Cap()),
	)
	if err != nil {
		return Run{}, fmt.Errorf("replay controller: %w", err)
	}

	ctx := context.Background()
	run := Run{Trace: session}
	session.Record(trace.SessionBegin)
	for i, req := range f.Requests {
		req.Trace = session
		d, err := ctl.Decide(ctx, req)
		if err != nil {
			fc, ok := failclosed.As(err)
			if !ok {
				return Run{}, fmt.Errorf("request %d (%s): %w", i, req.JobID, err)
			}
			run.Results = append(run.Results, Result{
				JobID:  req.JobID,
				Regime: ctl.Regime(),
				Error:  fc.Code.String(),
			})
			continue
		}
		res := Result{
			JobID:      req.JobID,
			Regime:     d.Regime,
			Admitted:   d.Admitted,
			Token:      d.Token,
			QualityQ16: int64(d.Evaluation.Quality),
			Seq:        d.Entry.Seq,
		}
		if d.Admitted {
			res.EffectiveMode = d.EffectiveMode.String()
		}
		run.Results = append(run.Results, res)
		run.Decisions = append(run.Decisions, d)
	}
	session.Record(trace.SessionEnd)

	run.Entries = log.Entries()
	run.Violations = sink.Violations()
	run.Signature = session.Signature()
	return run, nil
}

// Summarize computes aggregate stats from a run.
func Summarize(run Run) Summary {
	s := Summary{
		Total:     len(run.Results),
		Signature: fmt.Sprintf("%016x", run.Signature),
	}
	for _, r := range run.Results {
		switch {
		case r.Error != "":
			s.Refused++
		case !r.Admitted:
			s.Rejected++
		case r.EffectiveMode == admission.ModeFailSoft.String():
			s.Admitted++
			s.FailSoft++
		default:
			s.Admitted++
		}
	}
	for _, d := range run.Decisions {
		if d.Transition != nil {
			s.Transitions++
		}
	}
	if n := len(run.Results); n > 0 {
		s.FinalRegime = run.Results[n-1].Regime
	}
	return s
}

// Compare lists every difference between f's expectations and run. An empty
// result means the run reproduces the fixture.
func Compare(f Fixture, run Run) []Mismatch {
	var out []Mismatch
	if len(f.ExpectedResults) != len(run.Results) {
		out = append(out, Mismatch{
			Index: -1,
			Field: "results",
			Want:  fmt.Sprint(len(f.ExpectedResults)),
			Got:   fmt.Sprint(len(run.Results)),
		})
	}
	n := min(len(f.ExpectedResults), len(run.Results))
	for i := range n {
		want, got := f.ExpectedResults[i], run.Results[i]
		check := func(field, w, g string) {
			if w != g {
				out = append(out, Mismatch{Index: i, JobID: want.JobID, Field: field, Want: w, Got: g})
			}
		}
		check("job_id", want.JobID, got.JobID)
		check("error", want.Error, got.Error)
		check("regime", want.Regime.String(), got.Regime.String())
		if want.Error != "" {
			continue
		}
		check("admitted", fmt.Sprint(want.Admitted), fmt.Sprint(got.Admitted))
		check("effective_mode", want.EffectiveMode, got.EffectiveMode)
		check("token", want.Token.String(), got.Token.String())
	}
	if f.ExpectedSignature != "" {
		if got := fmt.Sprintf("%016x", run.Signature); got != f.ExpectedSignature {
			out = append(out, Mismatch{Index: -1, Field: "signature", Want: f.ExpectedSignature, Got: got})
		}
	}
	return out
}

// #endregion replay
