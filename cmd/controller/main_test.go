package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/admission"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := admission.NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	fn := fence.New(&fence.MemorySink{})
	g, err := gate.NewGate(gate.DefaultPolicy(), failclosed.NewPolicyEpochRegistry(), fn)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	log, err := wal.Open(wal.NewMemoryBackend())
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	ctl, err := admission.New(g, log, fn, admission.DefaultConfig(), admission.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	if _, err := ctl.Decide(context.Background(), admission.Request{
		JobID: "3f2504e0-4f89-41d3-9a0c-0305e82c3301",
		Mode:  admission.ModeEnter,
		Load:  0.95,
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	r := metricsRouter(reg, ctl)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/ready: status %d", rec.Code)
	}
	var ready struct {
		Ready  bool    `json:"ready"`
		Regime string  `json:"regime"`
		Load   float64 `json:"load"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ready); err != nil {
		t.Fatalf("/ready body %q: %v", rec.Body.String(), err)
	}
	if !ready.Ready || ready.Regime != "saturated" || ready.Load < 0.94 || ready.Load > 0.96 {
		t.Errorf("unexpected readiness %+v", ready)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"buildgate_admission_regime 2", "buildgate_admission_decisions_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ready", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("POST /ready: expected 404, got %d", rec.Code)
	}
}
