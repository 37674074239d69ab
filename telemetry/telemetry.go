// Package telemetry declares the narrow logging, metrics, and tracing
// interfaces used throughout swarmkit. Concrete implementations adapt
// go.opentelemetry.io/otel; the zero-value Noop* types are the default so the
// engine never requires a configured backend.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines. Fields are key/value pairs flattened
	// in order; implementations decide the wire format.
	Logger interface {
		Info(msg string, fields ...any)
		Warn(msg string, fields ...any)
		Error(msg string, fields ...any)
	}

	// Metrics records counters and durations for engine operations.
	Metrics interface {
		IncrCounter(name string, attrs ...attribute.KeyValue)
		RecordDuration(name string, d float64, attrs ...attribute.KeyValue)
	}

	// Tracer starts spans around suspension points (LLM calls, tool
	// execution, delegation) per spec §5.
	Tracer interface {
		StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	}
)

// NoopLogger discards all log calls.
type NoopLogger struct{}

func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// NoopMetrics discards all metric calls.
type NoopMetrics struct{}

func (NoopMetrics) IncrCounter(string, ...attribute.KeyValue)          {}
func (NoopMetrics) RecordDuration(string, float64, ...attribute.KeyValue) {}

// NoopTracer returns the incoming context and a non-recording span.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// OTelMetrics adapts an otel metric.Meter to the Metrics interface, creating
// instruments lazily and caching them by name.
type OTelMetrics struct {
	meter    metric.Meter
	counters map[string]metric.Int64Counter
	hists    map[string]metric.Float64Histogram
}

// NewOTelMetrics builds an OTelMetrics backed by the given meter.
func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter),
		hists:    make(map[string]metric.Float64Histogram),
	}
}

func (m *OTelMetrics) IncrCounter(name string, attrs ...attribute.KeyValue) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Int64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *OTelMetrics) RecordDuration(name string, d float64, attrs ...attribute.KeyValue) {
	h, ok := m.hists[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.hists[name] = h
	}
	h.Record(context.Background(), d, metric.WithAttributes(attrs...))
}

// OTelTracer adapts an otel trace.Tracer to the Tracer interface.
type OTelTracer struct {
	Tracer trace.Tracer
}

func (t OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.Tracer.Start(ctx, name)
}

// ToolTelemetry captures per-call execution metrics attached to a tool
// result for downstream consumers (snapshots, UIs).
type ToolTelemetry struct {
	DurationMS   int64
	InputTokens  int
	OutputTokens int
	Model        string
}
