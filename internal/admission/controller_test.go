package admission

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/clock"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fixedpoint"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/logging"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

type harness struct {
	ctl      *Controller
	log      *wal.Log
	gate     *gate.Gate
	registry *failclosed.PolicyEpochRegistry
	sink     *fence.MemorySink
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	reg := failclosed.NewPolicyEpochRegistry()
	sink := &fence.MemorySink{}
	f := fence.New(sink, fence.WithClock(clock.Fixed{T: at}))
	g, err := gate.NewGate(gate.DefaultPolicy(), reg, f)
	require.NoError(t, err)
	l, err := wal.Open(wal.NewMemoryBackend(), wal.WithClock(clock.Fixed{T: at}))
	require.NoError(t, err)
	opts = append([]Option{WithClock(clock.Fixed{T: at})}, opts...)
	ctl, err := New(g, l, f, cfg, opts...)
	require.NoError(t, err)
	return &harness{ctl: ctl, log: l, gate: g, registry: reg, sink: sink}
}

func goodMetrics() gate.Metrics {
	return gate.Metrics{
		ThetaSpanDeg:       110,
		PhiSpanDeg:         55,
		L2PlusCount:        15,
		L3Count:            7,
		ReprojRMSPx:        0.4,
		EdgeRMSPx:          0.3,
		Sharpness:          95,
		OverexposureRatio:  0.01,
		UnderexposureRatio: 0.02,
	}
}

func request(mode Mode, load float64, m gate.Metrics) Request {
	return Request{JobID: uuid.NewString(), Mode: mode, Load: load, Metrics: m}
}

func decodeDecision(t *testing.T, e wal.Entry) logging.DecisionRecord {
	t.Helper()
	rec, err := logging.DecodeRecord(e.Payload)
	require.NoError(t, err)
	d, ok := rec.(logging.DecisionRecord)
	require.True(t, ok, "expected decision record, got %T", rec)
	return d
}

func TestValidNormalEnterAdmitted(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	pt := trace.New()
	req := request(ModeEnter, 0.2, goodMetrics())
	req.Trace = pt

	d, err := h.ctl.Decide(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, d.Admitted)
	assert.Equal(t, ModeEnter, d.EffectiveMode)
	assert.Equal(t, RegimeNormal, d.Regime)
	assert.Nil(t, d.Transition)

	entries := h.log.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Committed)
	assert.Empty(t, h.log.Uncommitted())
	assert.Equal(t, wal.HashPayload(entries[0].Payload), entries[0].Hash)

	require.Equal(t, 1, pt.Len())
	assert.Equal(t, []trace.Token{trace.GateAdmitEnter}, pt.Tokens())
	assert.Equal(t, pt.Signature(), entries[0].IntegrityState)

	rec := decodeDecision(t, entries[0])
	assert.Equal(t, req.JobID, rec.JobID)
	assert.Equal(t, trace.GatePass, rec.GateToken)
	assert.Equal(t, "enter", rec.EffectiveMode)
}

func TestNaNSharpnessFallsBack(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	m := goodMetrics()
	m.Sharpness = math.NaN()

	d, err := h.ctl.Decide(context.Background(), request(ModePublish, 0.1, m))
	require.NoError(t, err)

	res := d.Evaluation.Result
	require.False(t, res.Valid)
	assert.Equal(t, gate.ReasonSharpnessNonFinite, res.Reason.Code)

	p := gate.DefaultPolicy()
	want := 0.4*p.MinViewGain + 0.45*p.MinGeomGain + 0.15*p.MinBasicGain
	assert.InDelta(t, want, res.Fallback.Float(), 1e-3)
	assert.Equal(t, res.Fallback, d.Evaluation.Quality)

	// Normal regime down-scopes invalid input to fail-soft.
	assert.True(t, d.Admitted)
	assert.Equal(t, ModeFailSoft, d.EffectiveMode)
	assert.Equal(t, trace.GateAdmitFailSoft, d.Token)

	rec := decodeDecision(t, d.Entry)
	require.NotNil(t, rec.Reason)
	assert.True(t, math.IsNaN(rec.Metrics.Sharpness))
}

func TestSaturatedRejectsEveryMode(t *testing.T) {
	for _, mode := range []Mode{ModeEnter, ModePublish, ModeFailSoft} {
		t.Run(mode.String(), func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			d, err := h.ctl.Decide(context.Background(), request(mode, 0.95, goodMetrics()))
			require.NoError(t, err)

			assert.False(t, d.Admitted)
			assert.Equal(t, RegimeSaturated, d.Regime)
			assert.Equal(t, trace.GateRejectSaturated, d.Token)
			require.NotNil(t, d.Transition)
			assert.Equal(t, RegimeNormal, d.Transition.From)

			// transition + decision, both committed
			assert.Equal(t, 2, h.log.Len())
			assert.Empty(t, h.log.Uncommitted())
		})
	}
}

func TestDampingRequiresMarginAboveFallback(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	d, err := h.ctl.Decide(context.Background(), request(ModePublish, 0.75, goodMetrics()))
	require.NoError(t, err)
	assert.Equal(t, RegimeDamping, d.Regime)
	assert.True(t, d.Admitted, "high quality input should pass damping")
	assert.Equal(t, trace.GateAdmitPublish, d.Token)

	weak := gate.Metrics{ReprojRMSPx: 5, EdgeRMSPx: 5, OverexposureRatio: 0.9, UnderexposureRatio: 0.9, Sharpness: 1}
	d, err = h.ctl.Decide(context.Background(), request(ModePublish, 0.75, weak))
	require.NoError(t, err)
	require.True(t, d.Evaluation.Result.Valid)
	assert.False(t, d.Admitted, "valid but barely above fallback must be rejected while damping")
	assert.Equal(t, trace.GateRejectDamping, d.Token)

	bad := goodMetrics()
	bad.PhiSpanDeg = -1
	d, err = h.ctl.Decide(context.Background(), request(ModeFailSoft, 0.75, bad))
	require.NoError(t, err)
	assert.False(t, d.Admitted, "invalid input is never admitted while damping")
}

func TestHysteresis(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	steps := []struct {
		load float64
		want Regime
	}{
		{0.50, RegimeNormal},
		{0.72, RegimeDamping},
		{0.67, RegimeDamping}, // within hysteresis of 0.70
		{0.64, RegimeNormal},  // below 0.65
		{0.91, RegimeSaturated},
		{0.86, RegimeSaturated}, // within hysteresis of 0.90
		{0.84, RegimeDamping},
		{0.10, RegimeNormal},
	}
	for i, s := range steps {
		d, err := h.ctl.Decide(ctx, request(ModeEnter, s.load, goodMetrics()))
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, s.want, d.Regime, "step %d load %v", i, s.load)
	}
	assert.Equal(t, RegimeNormal, h.ctl.Regime())

	var transitions int
	for _, e := range h.log.Entries() {
		rec, err := logging.DecodeRecord(e.Payload)
		require.NoError(t, err)
		if _, ok := rec.(logging.TransitionRecord); ok {
			transitions++
		}
	}
	assert.Equal(t, 5, transitions)
}

func TestLoadWindowMedian(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoadWindow = 3
	h := newHarness(t, cfg)
	ctx := context.Background()

	for _, load := range []float64{0.2, 0.2} {
		_, err := h.ctl.Decide(ctx, request(ModeEnter, load, goodMetrics()))
		require.NoError(t, err)
	}
	// A single spike does not move the median.
	d, err := h.ctl.Decide(ctx, request(ModeEnter, 0.99, goodMetrics()))
	require.NoError(t, err)
	assert.Equal(t, RegimeNormal, d.Regime)
	assert.InDelta(t, 0.2, d.Load.Float(), 1e-4)
}

func TestOverloadClampsToSaturatedReject(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	pt := trace.New()
	req := request(ModeEnter, 1.5, goodMetrics())
	req.Trace = pt

	d, err := h.ctl.Decide(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Equal(t, RegimeSaturated, d.Regime)
	assert.Equal(t, trace.GateRejectSaturated, d.Token)
	assert.Equal(t, fixedpoint.One, d.Load)
	require.NotNil(t, d.Transition)
	assert.Equal(t, []trace.Token{trace.OverflowClamped, trace.HealthSaturated, trace.GateRejectSaturated}, pt.Tokens())
	assert.Equal(t, 2, h.log.Len(), "transition and decision are both committed")
	require.Equal(t, 1, h.sink.Len())
	assert.Equal(t, fence.FieldAdmissionLoad, h.sink.Violations()[0].Field)

	rec := decodeDecision(t, h.log.Entries()[1])
	assert.Equal(t, 1.5, rec.Load)
	assert.Equal(t, int64(fixedpoint.One), rec.LoadQ16)

	for i, load := range []float64{1.0001, 1.2, math.Inf(1)} {
		d, err := h.ctl.Decide(ctx, request(ModePublish, load, goodMetrics()))
		require.NoError(t, err, "load %v", load)
		assert.False(t, d.Admitted, "load %v", load)
		assert.Equal(t, RegimeSaturated, d.Regime, "load %v", load)
		assert.Nil(t, d.Transition, "load %v", load)
		assert.Equal(t, 3+i, h.log.Len(), "load %v", load)
	}
	assert.Equal(t, 4, h.sink.Len())
}

func TestNegativeLoadFailsClosed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	pt := trace.New()
	for _, load := range []float64{-0.2, math.Inf(-1)} {
		req := request(ModeEnter, load, goodMetrics())
		req.Trace = pt
		_, err := h.ctl.Decide(context.Background(), req)
		assert.True(t, failclosed.HasCode(err, failclosed.CodeLimiterArithmeticOverflow), "load %v: got %v", load, err)
	}
	assert.Equal(t, 2, h.sink.Len())
	assert.Zero(t, pt.Len(), "a refused request records no tokens")
	assert.Zero(t, h.log.Len(), "no decision is logged when the load fails closed")
	assert.Equal(t, RegimeNormal, h.ctl.Regime())

	_, err := h.ctl.Decide(context.Background(), request(ModeEnter, math.NaN(), goodMetrics()))
	assert.ErrorIs(t, err, ErrInvalidLoad)
}

func TestRequestContractErrors(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	req := request(ModeEnter, 0.1, goodMetrics())
	req.JobID = strings.ToUpper(req.JobID)
	_, err := h.ctl.Decide(ctx, req)
	assert.True(t, failclosed.HasCode(err, failclosed.CodeUUIDCanonicalization), "got %v", err)

	_, err = h.ctl.Decide(ctx, request(Mode(9), 0.1, goodMetrics()))
	assert.ErrorIs(t, err, ErrUnknownMode)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = h.ctl.Decide(cancelled, request(ModeEnter, 0.1, goodMetrics()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.log.Len())
}

func TestEpochRollbackFailsClosed(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	newer := gate.DefaultPolicy()
	newer.Epoch = 9
	_, err := gate.NewGate(newer, h.registry, nil)
	require.NoError(t, err)

	_, err = h.ctl.Decide(context.Background(), request(ModeEnter, 0.1, goodMetrics()))
	assert.True(t, failclosed.HasCode(err, failclosed.CodePolicyEpochRollback), "got %v", err)
	assert.Zero(t, h.log.Len())
}

func TestConcurrentDecisionsAllCommitted(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctl.Decide(context.Background(), request(ModeEnter, 0.3, goodMetrics()))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, n, h.log.Len())
	assert.Empty(t, h.log.Uncommitted())
}

func TestMetricsAndLogging(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	var buf bytes.Buffer
	h := newHarness(t, DefaultConfig(), WithMetrics(m), WithLogger(zerolog.New(&buf)))

	_, err = h.ctl.Decide(context.Background(), request(ModeEnter, 0.2, goodMetrics()))
	require.NoError(t, err)
	_, err = h.ctl.Decide(context.Background(), request(ModePublish, 0.95, goodMetrics()))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("normal", "enter", "admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("saturated", "publish", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("normal", "saturated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.regime))

	out := buf.String()
	assert.Contains(t, out, `"message":"capacity regime transition"`)
	assert.Contains(t, out, `"token":"gate.reject_saturated"`)

	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.DampingThreshold = 0.95
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.LoadWindow = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestModeAndRegimeText(t *testing.T) {
	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("fail_soft")))
	assert.Equal(t, ModeFailSoft, m)
	assert.ErrorIs(t, m.UnmarshalText([]byte("sprint")), ErrUnknownMode)

	b, err := RegimeDamping.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "damping", string(b))
	var r Regime
	require.NoError(t, r.UnmarshalText([]byte("saturated")))
	assert.Equal(t, trace.HealthSaturated, r.Token())
}
