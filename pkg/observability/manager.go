// Package observability wires the engine's metrics and traces:
// OpenTelemetry instruments exported through prometheus and OTLP gRPC
// span export. Disabled concerns degrade to no-ops so call sites never
// branch on configuration.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/magpielabs/magpie/pkg/config"
)

const op = "observability"

// Manager owns the tracer provider, the metric instruments and the
// scrape handler.
type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        *Metrics
	handler        http.Handler
	shutdown       func(context.Context) error
}

// New initializes tracing and metrics from cfg. Disabled tracing gets
// a no-op provider; with metrics disabled the scrape endpoint serves
// 503.
func New(ctx context.Context, cfg *config.ObservabilityConfig) (*Manager, error) {
	m := Noop()

	if cfg.TracingEnabled {
		tp, err := newTracerProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		m.tracerProvider = tp
		m.shutdown = tp.Shutdown
	}

	if cfg.MetricsEnabled != nil && *cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics, err := newMetrics(registry, cfg.ServiceName)
		if err != nil {
			return nil, err
		}
		m.metrics = metrics
		m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	return m, nil
}

// Noop returns a manager whose tracer and metrics do nothing.
func Noop() *Manager {
	return &Manager{
		tracerProvider: noop.NewTracerProvider(),
		handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		}),
	}
}

// Tracer returns a named tracer from the active provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	return m.tracerProvider.Tracer(name)
}

// Metrics returns the metric instruments. The result is nil when
// metrics are disabled and remains safe to record on.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// MetricsHandler returns the prometheus scrape handler.
func (m *Manager) MetricsHandler() http.Handler { return m.handler }

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}
