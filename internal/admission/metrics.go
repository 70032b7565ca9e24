package admission

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the controller's prometheus collectors.
type Metrics struct {
	decisions   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	regime      prometheus.Gauge
	load        prometheus.Gauge
}

// NewMetrics registers the admission collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "buildgate",
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Admission decisions by regime, requested mode and outcome.",
			},
			[]string{"regime", "mode", "outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "buildgate",
				Subsystem: "admission",
				Name:      "regime_transitions_total",
				Help:      "Capacity regime transitions.",
			},
			[]string{"from", "to"},
		),
		regime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildgate",
			Subsystem: "admission",
			Name:      "regime",
			Help:      "Current capacity regime (0 normal, 1 damping, 2 saturated).",
		}),
		load: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildgate",
			Subsystem: "admission",
			Name:      "load",
			Help:      "Smoothed load signal.",
		}),
	}
	for _, c := range []prometheus.Collector{m.decisions, m.transitions, m.regime, m.load} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeDecision(d Decision) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if d.Admitted {
		outcome = "admitted"
	}
	m.decisions.WithLabelValues(d.Regime.String(), d.RequestedMode.String(), outcome).Inc()
	m.regime.Set(float64(d.Regime))
	m.load.Set(d.Load.Float())
}

func (m *Metrics) observeTransition(from, to Regime) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}
