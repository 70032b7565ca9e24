package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/admission"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/logging"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Policy          gate.PolicyConstants    `json:"policy"`
	Admission       admission.Config        `json:"admission"`
	Requests        []admission.Request     `json:"requests"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
	// ExpectedSignature is the hex session signature. Empty skips the check.
	ExpectedSignature string `json:"expected_signature,omitempty"`
}

// FixtureExpectedResult is the expected outcome of one request. Error holds
// the fail-closed code name when the request must be refused.
type FixtureExpectedResult struct {
	JobID         string           `json:"job_id"`
	Regime        admission.Regime `json:"regime"`
	Admitted      bool             `json:"admitted"`
	EffectiveMode string           `json:"effective_mode,omitempty"`
	Token         trace.Token      `json:"token"`
	Error         string           `json:"error,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.ExpectedResults) != 0 && len(f.ExpectedResults) != len(f.Requests) {
		return nil, fmt.Errorf("parse fixture %s: %d requests but %d expected results",
			path, len(f.Requests), len(f.ExpectedResults))
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// FromEntries rebuilds a fixture from committed decision entries. Transition
// entries are skipped since replay derives them; uncommitted entries never
// produced a decision. Refused requests are absent from a WAL, so exported
// fixtures only cover decided ones.
func FromEntries(entries []wal.Entry, policy gate.PolicyConstants, cfg admission.Config) (*Fixture, error) {
	f := &Fixture{Policy: policy, Admission: cfg}
	for _, e := range entries {
		if !e.Committed {
			continue
		}
		rec, err := logging.DecodeRecord(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		d, ok := rec.(logging.DecisionRecord)
		if !ok {
			continue
		}
		mode, err := admission.ParseMode(d.RequestedMode)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		regime, err := admission.ParseRegime(d.Regime)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		f.Requests = append(f.Requests, admission.Request{
			JobID:   d.JobID,
			Mode:    mode,
			Load:    d.Load,
			Metrics: d.Metrics,
		})
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			JobID:         d.JobID,
			Regime:        regime,
			Admitted:      d.Admitted,
			EffectiveMode: d.EffectiveMode,
			Token:         d.Token,
		})
	}
	f.Description = fmt.Sprintf("exported %d decisions", len(f.Requests))
	return f, nil
}

// #endregion fixture-loader
