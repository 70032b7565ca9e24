package fence

import (
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// #region sink
// Sink receives Tier-0 violations. Implementations must be safe for
// concurrent use.
type Sink interface {
	ReportViolation(v Violation)
}

type discardSink struct{}

func (discardSink) ReportViolation(Violation) {}

// MultiSink fans a violation out to several sinks in order.
type MultiSink []Sink

// ReportViolation forwards v to every sink.
func (m MultiSink) ReportViolation(v Violation) {
	for _, s := range m {
		s.ReportViolation(v)
	}
}

// #endregion sink

// #region memory-sink
// MemorySink keeps every violation in memory.
type MemorySink struct {
	mu         sync.Mutex
	violations []Violation
}

// ReportViolation appends v.
func (m *MemorySink) ReportViolation(v Violation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, v)
}

// Violations returns a copy of everything reported so far.
func (m *MemorySink) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.violations)
}

// Len returns the number of reported violations.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

// #endregion memory-sink

// #region log-sink
// LogSink writes each violation as an error-level log line.
type LogSink struct {
	Logger zerolog.Logger
}

// ReportViolation logs v.
func (l LogSink) ReportViolation(v Violation) {
	l.Logger.Error().
		Str("field", string(v.Field)).
		Int64("value_q16", int64(v.Value)).
		Int64("bound_q16", int64(v.Bound)).
		Str("direction", v.Direction.String()).
		Time("at", v.At).
		Msg("tier-0 overflow")
}

// #endregion log-sink

// #region prometheus-sink
// PrometheusSink counts violations per field.
type PrometheusSink struct {
	counter *prometheus.CounterVec
}

// NewPrometheusSink registers buildgate_tier0_violations_total on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildgate",
		Name:      "tier0_violations_total",
		Help:      "Tier-0 overflow violations by field.",
	}, []string{"field"})
	if err := reg.Register(counter); err != nil {
		return nil, err
	}
	return &PrometheusSink{counter: counter}, nil
}

// ReportViolation increments the field's counter.
func (p *PrometheusSink) ReportViolation(v Violation) {
	p.counter.WithLabelValues(string(v.Field)).Inc()
}

// #endregion prometheus-sink
