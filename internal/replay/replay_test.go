package replay

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/admission"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
)

func loadSession(t *testing.T) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", "session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return f
}

// #region fixture-tests

// TestFixture_Session is the primary regression test: if the gate weights,
// the regime thresholds or the token set drift, the outcomes or the session
// signature stop matching.
func TestFixture_Session(t *testing.T) {
	f := loadSession(t)
	run, err := Replay(*f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for _, m := range Compare(*f, run) {
		t.Errorf("%s", m)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	f := loadSession(t)
	a, err := Replay(*f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	b, err := Replay(*f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if a.Signature != b.Signature {
		t.Fatalf("signature differs between runs: %016x vs %016x", a.Signature, b.Signature)
	}
	if len(a.Entries) != len(b.Entries) {
		t.Fatalf("entry count differs: %d vs %d", len(a.Entries), len(b.Entries))
	}
	for i := range a.Entries {
		if string(a.Entries[i].Payload) != string(b.Entries[i].Payload) {
			t.Fatalf("entry %d payload differs", i)
		}
		if a.Entries[i].Chain != b.Entries[i].Chain {
			t.Fatalf("entry %d chain differs", i)
		}
	}
}

func TestReplay_SessionTrace(t *testing.T) {
	run, err := Replay(*loadSession(t))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := []trace.Token{
		trace.SessionBegin,
		trace.GateAdmitEnter,
		trace.GateAdmitFailSoft,
		trace.HealthDamping, trace.GateAdmitEnter,
		trace.GateRejectDamping,
		trace.HealthSaturated, trace.GateRejectSaturated,
		trace.OverflowClamped, trace.GateRejectSaturated,
		trace.GateRejectSaturated,
		trace.HealthNormal, trace.GateAdmitEnter,
		trace.SessionEnd,
	}
	got := run.Trace.Tokens()
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if run.Signature != trace.Signature(trace.Version, want) {
		t.Errorf("signature does not match tokens")
	}
}

func TestReplay_WALAndViolations(t *testing.T) {
	run, err := Replay(*loadSession(t))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	// 8 decisions plus 3 regime transitions; refused requests write nothing.
	if len(run.Entries) != 11 {
		t.Fatalf("expected 11 entries, got %d", len(run.Entries))
	}
	for i, e := range run.Entries {
		if !e.Committed {
			t.Errorf("entry %d not committed", i)
		}
		if !e.AppendedAt.Equal(Epoch) {
			t.Errorf("entry %d stamped %v", i, e.AppendedAt)
		}
	}
	if len(run.Violations) != 1 || run.Violations[0].Field != fence.FieldAdmissionLoad {
		t.Fatalf("expected one admission_load violation, got %+v", run.Violations)
	}
}

func TestSummarize(t *testing.T) {
	run, err := Replay(*loadSession(t))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	s := Summarize(run)
	if s.Total != 9 || s.Admitted != 4 || s.FailSoft != 1 || s.Rejected != 4 || s.Refused != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Transitions != 3 {
		t.Errorf("expected 3 transitions, got %d", s.Transitions)
	}
	if s.FinalRegime != admission.RegimeNormal {
		t.Errorf("expected final regime normal, got %s", s.FinalRegime)
	}
	if s.Signature != "ff2969cc3c8ad208" {
		t.Errorf("unexpected signature %s", s.Signature)
	}
}

// #endregion fixture-tests

// #region compare-tests

func TestCompare_ReportsDrift(t *testing.T) {
	f := loadSession(t)
	run, err := Replay(*f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	f.ExpectedResults[3].Token = trace.GateAdmitPublish
	f.ExpectedResults[3].Admitted = true
	f.ExpectedSignature = "0000000000000000"
	ms := Compare(*f, run)
	if len(ms) != 3 {
		t.Fatalf("expected 3 mismatches, got %d: %v", len(ms), ms)
	}
	fields := map[string]bool{}
	for _, m := range ms {
		fields[m.Field] = true
	}
	for _, want := range []string{"token", "admitted", "signature"} {
		if !fields[want] {
			t.Errorf("missing %s mismatch in %v", want, ms)
		}
	}
	if !strings.Contains(ms[0].String(), "request 3") {
		t.Errorf("mismatch should name the request: %s", ms[0])
	}
}

func TestCompare_LengthMismatch(t *testing.T) {
	f := loadSession(t)
	run, err := Replay(*f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	f.ExpectedResults = f.ExpectedResults[:5]
	f.ExpectedSignature = ""
	ms := Compare(*f, run)
	if len(ms) != 1 || ms[0].Field != "results" {
		t.Fatalf("expected a single results mismatch, got %v", ms)
	}
}

func TestReplay_EmptySession(t *testing.T) {
	f := loadSession(t)
	f.Requests = nil
	f.ExpectedResults = nil
	f.ExpectedSignature = "44e2527f993d5c51"
	run, err := Replay(*f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if ms := Compare(*f, run); len(ms) != 0 {
		t.Fatalf("unexpected mismatches %v", ms)
	}
}

func TestReplay_InvalidPolicy(t *testing.T) {
	f := loadSession(t)
	f.Policy.MinViewGain = 2
	if _, err := Replay(*f); err == nil {
		t.Fatal("invalid policy should abort the replay")
	}
}

// #endregion compare-tests

// #region export-tests

func TestFromEntries_RoundTrip(t *testing.T) {
	f := loadSession(t)
	run, err := Replay(*f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	exported, err := FromEntries(run.Entries, f.Policy, f.Admission)
	if err != nil {
		t.Fatalf("FromEntries: %v", err)
	}
	if len(exported.Requests) != 8 {
		t.Fatalf("expected 8 decided requests, got %d", len(exported.Requests))
	}

	again, err := Replay(*exported)
	if err != nil {
		t.Fatalf("Replay exported: %v", err)
	}
	if ms := Compare(*exported, again); len(ms) != 0 {
		t.Fatalf("exported fixture does not reproduce: %v", ms)
	}

	path := filepath.Join(t.TempDir(), "exported.json")
	if err := WriteFixture(path, exported); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(loaded.Requests) != 8 || loaded.Requests[1].Mode != admission.ModePublish {
		t.Fatalf("written fixture lost requests: %+v", loaded.Requests)
	}
}

// #endregion export-tests
