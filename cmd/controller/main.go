package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/admission"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/config"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/gate"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/logging"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

// maxLine bounds one request line on stdin.
const maxLine = 1 << 20

// #region main
func main() {
	cfg, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	cfg.Log.App = "controller"
	logger := logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("controller stopped")
		os.Exit(1)
	}
}

// #endregion main

// #region wiring
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	pf := config.DefaultPolicyFile()
	if cfg.PolicyPath != "" {
		loaded, err := config.LoadPolicyFile(cfg.PolicyPath)
		if err != nil {
			return err
		}
		pf = loaded
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := fence.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("register fence metrics: %w", err)
	}
	metrics, err := admission.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register admission metrics: %w", err)
	}
	fn := fence.New(fence.MultiSink{fence.LogSink{Logger: logger}, promSink})

	backend, err := wal.NewSQLiteBackend(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open wal %s: %w", cfg.DBPath, err)
	}
	log, err := wal.Open(backend, wal.WithLogger(logger))
	if err != nil {
		backend.Close()
		return err
	}
	defer log.Close()
	if pending := log.Uncommitted(); len(pending) > 0 {
		logger.Warn().Int("uncommitted", len(pending)).Uint64("first_seq", pending[0].Seq).
			Msg("wal holds entries that were never committed; they carry no decision")
	}

	g, err := gate.NewGate(pf.Policy, failclosed.NewPolicyEpochRegistry(), fn, gate.WithLogger(logger))
	if err != nil {
		return err
	}

	ctl, err := admission.New(g, log, fn, pf.Admission,
		admission.WithLogger(logger),
		admission.WithMetrics(metrics),
		admission.WithTraceCapacity(cfg.TraceCapacity),
	)
	if err != nil {
		return err
	}

	if cfg.PolicyPath != "" {
		go reloadOnHangup(ctx, g, cfg.PolicyPath, logger)
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsRouter(reg, ctl),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("db", cfg.DBPath).
		Str("tier", string(pf.Policy.Tier)).
		Int64("epoch", pf.Policy.Epoch).
		Int("wal_entries", log.Len()).
		Msg("controller ready")
	return serve(ctx, ctl, os.Stdin, os.Stdout, logger)
}

// reloadOnHangup re-reads the gate policy on SIGHUP. A rolled-back epoch or
// an invalid file leaves the running policy in place.
func reloadOnHangup(ctx context.Context, g *gate.Gate, path string, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		pf, err := config.LoadPolicyFile(path)
		if err == nil {
			err = g.Reload(pf.Policy)
		}
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("policy reload refused")
		}
	}
}

// metricsRouter serves Prometheus scrapes and a readiness view of the
// admission regime.
func metricsRouter(reg *prometheus.Registry, ctl *admission.Controller) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"regime": ctl.Regime().String(),
			"load":   ctl.Load().Float(),
		})
	})
	return r
}

// #endregion wiring
