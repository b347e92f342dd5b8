// Package telemetry defines the logging, tracing, and metrics interfaces
// used throughout the orchestration layer. Concrete implementations wrap
// zerolog and OpenTelemetry (see zerolog.go and otel.go); a no-op
// implementation is provided for tests.
package telemetry

import "context"

type (
	// Logger emits structured log records with leveled key-value pairs.
	// Implementations must be safe for concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Tracer starts spans around scheduler layers, tool dispatch, and turn
	// execution so durations and failures are observable end-to-end.
	Tracer interface {
		// Start begins a span named name and returns a context carrying it
		// plus a handle to end it. Callers must call Span.End exactly once.
		Start(ctx context.Context, name string, attrs ...KV) (context.Context, Span)
	}

	// Span is a single traced operation.
	Span interface {
		// SetError records that the operation failed.
		SetError(err error)
		// End finishes the span.
		End()
	}

	// Metrics records counters and histograms for scheduler and runtime
	// activity (tool calls, failures, confirmation latency).
	Metrics interface {
		// IncCounter increments a named counter by delta, tagged with attrs.
		IncCounter(ctx context.Context, name string, delta int64, attrs ...KV)
		// RecordDuration records a duration (milliseconds) for a named
		// histogram, tagged with attrs.
		RecordDuration(ctx context.Context, name string, millis float64, attrs ...KV)
	}

	// KV is a single structured attribute attached to a log line, span, or
	// metric data point.
	KV struct {
		Key   string
		Value any
	}
)
