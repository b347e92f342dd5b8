package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// otelTracer and otelMetrics wrap the global OpenTelemetry providers,
// delegating directly to otel.Tracer/otel.Meter.
type (
	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}

	otelMetrics struct {
		meter     metric.Meter
		counters  map[string]metric.Int64Counter
		durations map[string]metric.Float64Histogram
	}
)

// NewOtelTracer constructs a Tracer delegating to the global TracerProvider
// under the given instrumentation name.
func NewOtelTracer(instrumentationName string) Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

// NewOtelMetrics constructs a Metrics recorder delegating to the global
// MeterProvider under the given instrumentation name. Counters and
// histograms are created lazily and cached by name.
func NewOtelMetrics(instrumentationName string) Metrics {
	return &otelMetrics{
		meter:     otel.Meter(instrumentationName),
		counters:  make(map[string]metric.Int64Counter),
		durations: make(map[string]metric.Float64Histogram),
	}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...KV) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.span.End() }

func (m *otelMetrics) IncCounter(ctx context.Context, name string, delta int64, attrs ...KV) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Int64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(ctx, delta, metric.WithAttributes(toAttributes(attrs)...))
}

func (m *otelMetrics) RecordDuration(ctx context.Context, name string, millis float64, attrs ...KV) {
	h, ok := m.durations[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			return
		}
		m.durations[name] = h
	}
	h.Record(ctx, millis, metric.WithAttributes(toAttributes(attrs)...))
}

func toAttributes(kvs []KV) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		switch v := kv.Value.(type) {
		case string:
			out = append(out, attribute.String(kv.Key, v))
		case int:
			out = append(out, attribute.Int(kv.Key, v))
		case int64:
			out = append(out, attribute.Int64(kv.Key, v))
		case float64:
			out = append(out, attribute.Float64(kv.Key, v))
		case bool:
			out = append(out, attribute.Bool(kv.Key, v))
		default:
			out = append(out, attribute.String(kv.Key, fmt.Sprintf("%v", v)))
		}
	}
	return out
}
