package admission

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/clock"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fixedpoint"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/logging"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

const tracerName = "github.com/danielpatrickdp/buildgate/go-controller/internal/admission"

// #region controller
// Controller owns the capacity regime and the load window. Decide calls are
// serialized.
type Controller struct {
	mu     sync.Mutex
	gate   *gate.Gate
	log    *wal.Log
	fence  *fence.Fence
	cfg    Config
	regime Regime
	window []fixedpoint.Q16
	load   fixedpoint.Q16

	damping   fixedpoint.Q16
	saturated fixedpoint.Q16
	hyst      fixedpoint.Q16
	margin    fixedpoint.Q16

	clock         clock.Provider
	logger        zerolog.Logger
	metrics       *Metrics
	tracer        oteltrace.Tracer
	traceCapacity int
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time provider used to stamp records.
func WithClock(c clock.Provider) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the controller's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithMetrics enables prometheus collection.
func WithMetrics(m *Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithTracer overrides the otel tracer; the default comes from the global provider.
func WithTracer(t oteltrace.Tracer) Option {
	return func(ctl *Controller) { ctl.tracer = t }
}

// WithTraceCapacity bounds the per-request path trace.
func WithTraceCapacity(n int) Option {
	return func(ctl *Controller) { ctl.traceCapacity = n }
}

// New creates a controller in the normal regime.
func New(g *gate.Gate, log *wal.Log, f *fence.Fence, cfg Config, opts ...Option) (*Controller, error) {
	if g == nil || log == nil {
		return nil, fmt.Errorf("admission: gate and wal are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f == nil {
		f = fence.New(nil)
	}
	ctl := &Controller{
		gate:          g,
		log:           log,
		fence:         f,
		cfg:           cfg,
		regime:        RegimeNormal,
		damping:       fixedpoint.MustFromFloat(cfg.DampingThreshold),
		saturated:     fixedpoint.MustFromFloat(cfg.SaturatedThreshold),
		hyst:          fixedpoint.MustFromFloat(cfg.Hysteresis),
		margin:        fixedpoint.MustFromFloat(cfg.DampingMargin),
		clock:         clock.System{},
		logger:        zerolog.Nop(),
		tracer:        otel.Tracer(tracerName),
		traceCapacity: trace.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl, nil
}

// Regime returns the current capacity regime.
func (c *Controller) Regime() Regime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regime
}

// Load returns the current smoothed load.
func (c *Controller) Load() fixedpoint.Q16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load
}

// Decide evaluates req and commits the outcome. A returned error means no
// decision was made; fail-closed violations surface as *failclosed.Error.
func (c *Controller) Decide(ctx context.Context, req Request) (d Decision, err error) {
	ctx, span := c.tracer.Start(ctx, "admission.Decide", oteltrace.WithAttributes(
		attribute.String("buildgate.job_id", req.JobID),
		attribute.String("buildgate.mode", req.Mode.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			ev := c.logger.Error().Err(err).Str("job_id", req.JobID)
			if fc, ok := failclosed.As(err); ok {
				ev = ev.Stringer("code", fc.Code)
			}
			ev.Msg("admission failed")
		} else {
			span.SetAttributes(
				attribute.String("buildgate.regime", d.Regime.String()),
				attribute.Bool("buildgate.admitted", d.Admitted),
				attribute.String("buildgate.token", d.Token.String()),
				attribute.Int64("buildgate.wal_seq", int64(d.Entry.Seq)),
			)
		}
		span.End()
	}()
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	jobID, err := failclosed.CanonicalUUID(req.JobID)
	if err != nil {
		return Decision{}, err
	}
	if !req.Mode.Valid() {
		return Decision{}, fmt.Errorf("job %s: %w: %d", jobID, ErrUnknownMode, uint8(req.Mode))
	}
	if math.IsNaN(req.Load) {
		return Decision{}, fmt.Errorf("job %s: %w", jobID, ErrInvalidLoad)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pt := req.Trace
	if pt == nil {
		pt = trace.New(trace.WithCapacity(c.traceCapacity))
	}

	ev, err := c.gate.Evaluate(req.Metrics)
	if err != nil {
		return Decision{}, fmt.Errorf("job %s: %w", jobID, err)
	}

	raw, load, err := c.observeLoad(req.Load, pt)
	if err != nil {
		return Decision{}, fmt.Errorf("job %s: %w", jobID, err)
	}

	d = Decision{
		JobID:         jobID,
		RequestedMode: req.Mode,
		Evaluation:    ev,
		Load:          load,
	}

	next := c.nextRegime(load)
	if next != c.regime {
		tr, err := c.commitTransition(jobID, c.regime, next, load, pt)
		if err != nil {
			return Decision{}, err
		}
		d.Transition = tr
		c.regime = next
	}
	d.Regime = c.regime

	d.Admitted, d.EffectiveMode, d.Token = c.rule(req.Mode, ev)
	pt.Record(d.Token)
	d.TraceSignature = pt.Signature()

	policy := c.gate.Policy()
	rec := logging.DecisionRecord{
		JobID:          jobID.String(),
		RequestedMode:  req.Mode.String(),
		Regime:         d.Regime.String(),
		Admitted:       d.Admitted,
		Token:          d.Token,
		GateToken:      ev.Token,
		Metrics:        req.Metrics,
		Valid:          ev.Result.Valid,
		QualityQ16:     int64(ev.Quality),
		FallbackQ16:    int64(ev.Result.Fallback),
		Load:           raw,
		LoadQ16:        int64(load),
		PolicyTier:     string(policy.Tier),
		PolicyEpoch:    policy.Epoch,
		TraceSignature: fmt.Sprintf("%016x", d.TraceSignature),
		DecidedAt:      c.clock.Now(),
	}
	if d.Admitted {
		rec.EffectiveMode = d.EffectiveMode.String()
	}
	if !ev.Result.Valid {
		reason := ev.Result.Reason
		rec.Reason = &reason
	}

	d.Entry, err = c.commitRecord(rec, d.TraceSignature)
	if err != nil {
		return Decision{}, fmt.Errorf("job %s: %w", jobID, err)
	}

	c.metrics.observeDecision(d)
	c.logger.Info().EmbedObject(rec).Uint64("seq", d.Entry.Seq).Msg("admission decision")
	return d, nil
}

// #endregion controller

// #region rules
// rule applies the regime's admission policy.
func (c *Controller) rule(mode Mode, ev gate.Evaluation) (admitted bool, effective Mode, tok trace.Token) {
	switch c.regime {
	case RegimeSaturated:
		return false, 0, trace.GateRejectSaturated
	case RegimeDamping:
		floor, _ := fixedpoint.Add(ev.Result.Fallback, c.margin)
		if ev.Result.Valid && ev.Quality >= floor {
			return true, mode, mode.admitToken()
		}
		return false, 0, trace.GateRejectDamping
	default:
		if ev.Result.Valid {
			return true, mode, mode.admitToken()
		}
		return true, ModeFailSoft, trace.GateAdmitFailSoft
	}
}

// nextRegime applies the thresholds with hysteresis: a regime is entered at
// its threshold and left only once load falls Hysteresis below it.
func (c *Controller) nextRegime(load fixedpoint.Q16) Regime {
	switch {
	case load >= c.saturated:
		return RegimeSaturated
	case c.regime == RegimeSaturated && load >= c.saturated-c.hyst:
		return RegimeSaturated
	case load >= c.damping:
		return RegimeDamping
	case c.regime >= RegimeDamping && load >= c.damping-c.hyst:
		return RegimeDamping
	}
	return RegimeNormal
}

// observeLoad fences the raw sample as Tier-0 admission_load. A sample above
// One is reported to the fence sink, clamped to One and recorded as
// overflow.clamped, so overload still ends in a logged decision. A negative
// sample fails closed. The clamped sample is pushed into the window and the
// window median is returned.
func (c *Controller) observeLoad(raw float64, pt *trace.PathTrace) (float64, fixedpoint.Q16, error) {
	v, _ := fixedpoint.Sanitize(raw)
	q, _ := fixedpoint.FromFloat(v)
	if q > fixedpoint.One {
		q, _ = c.fence.HandleOverflow(fence.FieldAdmissionLoad, q, fixedpoint.One, fence.Upper)
		pt.Record(trace.OverflowClamped)
	}
	q, err := c.fence.HandleOverflow(fence.FieldAdmissionLoad, q, 0, fence.Lower)
	if err != nil {
		return v, q, err
	}
	c.window = append(c.window, q)
	if len(c.window) > c.cfg.LoadWindow {
		c.window = c.window[len(c.window)-c.cfg.LoadWindow:]
	}
	med, err := fixedpoint.Median(c.window)
	if err != nil {
		return v, q, err
	}
	c.load = med
	return v, med, nil
}

// #endregion rules

// #region wal
func (c *Controller) commitTransition(jobID uuid.UUID, from, to Regime, load fixedpoint.Q16, pt *trace.PathTrace) (*Transition, error) {
	pt.Record(to.Token())
	rec := logging.TransitionRecord{
		JobID:   jobID.String(),
		From:    from.String(),
		To:      to.String(),
		LoadQ16: int64(load),
		Token:   to.Token(),
		At:      c.clock.Now(),
	}
	e, err := c.commitRecord(rec, pt.Signature())
	if err != nil {
		return nil, fmt.Errorf("job %s transition %s->%s: %w", jobID, from, to, err)
	}
	c.metrics.observeTransition(from, to)
	c.logger.Warn().EmbedObject(rec).Uint64("seq", e.Seq).Msg("capacity regime transition")
	return &Transition{From: from, To: to, Entry: e}, nil
}

// commitRecord appends and commits one payload. The entry is committed
// before the caller sees the decision.
func (c *Controller) commitRecord(rec logging.Record, signature uint64) (wal.Entry, error) {
	payload, err := logging.EncodeRecord(rec)
	if err != nil {
		return wal.Entry{}, err
	}
	e, err := c.log.Append(wal.HashPayload(payload), payload, signature)
	if err != nil {
		return wal.Entry{}, err
	}
	if err := c.log.Commit(e); err != nil {
		return wal.Entry{}, err
	}
	e.Committed = true
	return e, nil
}

// #endregion wal
