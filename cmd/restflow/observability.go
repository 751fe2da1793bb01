package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/restflow/engine/internal/observability"
)

// obsHandle bundles the optional metrics/tracing collaborators a run or
// resume invocation wires into its Executor, plus the cleanup needed on
// exit.
type obsHandle struct {
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	shutdown func(context.Context) error
}

// setupObservability builds the Prometheus/OTel collaborators for a CLI
// invocation. metricsAddr, if non-empty, serves /metrics over HTTP for the
// life of the process (§11 DOMAIN STACK: client_golang + promhttp).
// traceEndpoint, if non-empty, is an OTLP/gRPC collector address.
func setupObservability(metricsAddr, traceEndpoint string) *obsHandle {
	h := &obsHandle{shutdown: func(context.Context) error { return nil }}

	if metricsAddr != "" {
		h.metrics = observability.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName: "restflow-engine",
		Endpoint:    traceEndpoint,
	})
	h.tracer = tracer
	h.shutdown = shutdown

	return h
}
