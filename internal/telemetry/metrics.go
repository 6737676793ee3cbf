// Package telemetry provides the probe's own internal self-observability:
// a handful of OpenTelemetry counters for job dispatch volume, channel
// reconnects, and private-IP short-circuits. Grounded on the teacher's
// internal/otel/metrics.go Metrics/MetricsConfig shape, narrowed from
// MCP-session/stage counters to the probe's own domain counters and
// disabled by default exactly like the teacher's MetricsConfig.Enabled.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/globalping/probe-agent/internal/config"
)

const serviceName = "globalping-probe"

// Metrics wraps an OpenTelemetry meter with the probe's domain counters.
// A nil *Metrics is always safe to call Record* or Shutdown on, so call
// sites never need to check whether telemetry is enabled.
type Metrics struct {
	shutdown func(context.Context) error

	jobsDispatched   metric.Int64Counter
	reconnects       metric.Int64Counter
	privateIPBlocked metric.Int64Counter
}

var (
	global   *Metrics
	globalMu sync.RWMutex
)

// New builds a Metrics instance from cfg. A disabled config (or exporter
// "none") yields a fully wired no-op meter provider rather than a nil
// Metrics, so instrument registration still runs the same path in tests.
func New(ctx context.Context, cfg config.Telemetry) (*Metrics, error) {
	m := &Metrics{}

	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "none" {
		mp := sdkmetric.NewMeterProvider()
		m.shutdown = mp.Shutdown
		return m.register(mp.Meter(serviceName))
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	m.shutdown = mp.Shutdown
	return m.register(mp.Meter(serviceName))
}

func (m *Metrics) register(meter metric.Meter) (*Metrics, error) {
	var err error
	if m.jobsDispatched, err = meter.Int64Counter(
		"probe.jobs.dispatched",
		metric.WithDescription("Count of measurement jobs accepted for execution"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: register jobs.dispatched: %w", err)
	}
	if m.reconnects, err = meter.Int64Counter(
		"probe.channel.reconnects",
		metric.WithDescription("Count of control-plane channel reconnect attempts"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: register channel.reconnects: %w", err)
	}
	if m.privateIPBlocked, err = meter.Int64Counter(
		"probe.privateip.blocked",
		metric.WithDescription("Count of measurements rejected for targeting a private IP"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: register privateip.blocked: %w", err)
	}
	return m, nil
}

func newExporter(ctx context.Context, cfg config.Telemetry) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdoutmetric.New()
	case "otlp-grpc":
		var opts []otlpmetricgrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "otlp-http":
		var opts []otlpmetrichttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}
}

// RecordJobDispatched increments the jobs-dispatched counter, tagged with
// the measurement kind.
func (m *Metrics) RecordJobDispatched(ctx context.Context, kind string) {
	if m == nil || m.jobsDispatched == nil {
		return
	}
	m.jobsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordReconnect increments the channel-reconnect counter.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

// RecordPrivateIPBlocked increments the private-IP short-circuit counter.
func (m *Metrics) RecordPrivateIPBlocked(ctx context.Context) {
	if m == nil || m.privateIPBlocked == nil {
		return
	}
	m.privateIPBlocked.Add(ctx, 1)
}

// Shutdown flushes and releases the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}

// SetGlobal installs m as the process-wide Metrics instance that
// Global() returns. Mirrors the teacher's SetGlobalMetrics/GetGlobalMetrics
// singleton pair.
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = m
}

// Global returns the process-wide Metrics instance. Returns nil if
// SetGlobal was never called; nil is always safe to call Record* on.
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}
