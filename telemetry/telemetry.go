// Package telemetry exposes run counters and latencies over an optional
// HTTP listener. A nil *Metrics is a no-op, so components record
// unconditionally and only watch mode ever starts the listener.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	scoperr "github.com/mevscope/mevscope/errors"
)

const namespace = "mevscope"

// Metrics holds the run's instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rpcCalls        *prometheus.CounterVec
	blocksProcessed prometheus.Counter
	matchesEmitted  prometheus.Counter
	traces          *prometheus.CounterVec
	tracesSkipped   prometheus.Counter
	traceLatency    prometheus.Histogram
}

// NewMetrics builds and registers the instrument set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Finished JSON-RPC calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Blocks fully evaluated against the filter.",
		}),
		matchesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_emitted_total",
			Help:      "Transactions emitted to the sink.",
		}),
		traces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_total",
			Help:      "Trace executions by outcome.",
		}, []string{"outcome"}),
		tracesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_skipped_total",
			Help:      "Trace-requiring transactions skipped by the work ceiling.",
		}),
		traceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trace_duration_seconds",
			Help:      "Wall time of one trace execution.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
	}

	m.registry.MustRegister(
		m.rpcCalls,
		m.blocksProcessed,
		m.matchesEmitted,
		m.traces,
		m.tracesSkipped,
		m.traceLatency,
	)
	return m
}

// ObserveRPC counts one finished JSON-RPC call.
func (m *Metrics) ObserveRPC(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcCalls.WithLabelValues(operation, outcome).Inc()
}

// BlockProcessed counts one fully evaluated block.
func (m *Metrics) BlockProcessed() {
	if m == nil {
		return
	}
	m.blocksProcessed.Inc()
}

// MatchEmitted counts one match handed to the sink.
func (m *Metrics) MatchEmitted() {
	if m == nil {
		return
	}
	m.matchesEmitted.Inc()
}

// TraceFinished records one trace execution and its wall time.
func (m *Metrics) TraceFinished(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case scoperr.IsCode(err, scoperr.ErrCodeTraceDivergence):
		outcome = "divergent"
	case err != nil:
		outcome = "failed"
	}
	m.traces.WithLabelValues(outcome).Inc()
	m.traceLatency.Observe(elapsed.Seconds())
}

// TraceSkipped counts one transaction the work ceiling excluded.
func (m *Metrics) TraceSkipped() {
	if m == nil {
		return
	}
	m.tracesSkipped.Inc()
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the listener in the background and shuts it down with the
// context. It returns immediately; a nil receiver or empty address is a
// no-op.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	if m == nil || addr == "" {
		return
	}

	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listener started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}
