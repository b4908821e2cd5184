package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/magpielabs/magpie/pkg/fault"
)

// Metrics holds the engine's instruments. A nil *Metrics records
// nothing, so callers keep one unconditionally.
type Metrics struct {
	sectionDuration metric.Float64Histogram
	sectionTotal    metric.Int64Counter
	fileDuration    metric.Float64Histogram
	fileTotal       metric.Int64Counter
	httpDuration    metric.Float64Histogram
	httpTotal       metric.Int64Counter
}

func newMetrics(registry *prometheus.Registry, service string) (*Metrics, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(service)

	m := &Metrics{}

	m.sectionDuration, err = meter.Float64Histogram(
		"magpie_section_run_duration_seconds",
		metric.WithDescription("Section run duration in seconds"),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}

	m.sectionTotal, err = meter.Int64Counter(
		"magpie_section_runs_total",
		metric.WithDescription("Section runs by terminal stage"),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}

	m.fileDuration, err = meter.Float64Histogram(
		"magpie_file_pipeline_duration_seconds",
		metric.WithDescription("File pipeline duration in seconds"),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}

	m.fileTotal, err = meter.Int64Counter(
		"magpie_file_pipelines_total",
		metric.WithDescription("File pipelines by terminal status"),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"magpie_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}

	m.httpTotal, err = meter.Int64Counter(
		"magpie_http_requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}

	return m, nil
}

// RecordSectionRun counts one finished section run under its terminal
// stage.
func (m *Metrics) RecordSectionRun(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.sectionDuration.Record(ctx, d.Seconds(), attrs)
	m.sectionTotal.Add(ctx, 1, attrs)
}

// RecordFilePipeline counts one finished file pipeline under its
// terminal status.
func (m *Metrics) RecordFilePipeline(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.fileDuration.Record(ctx, d.Seconds(), attrs)
	m.fileTotal.Add(ctx, 1, attrs)
}

// RecordHTTPRequest counts one served request under its routed
// pattern.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
	m.httpTotal.Add(ctx, 1, attrs)
}
