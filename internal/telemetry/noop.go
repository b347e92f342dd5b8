package telemetry

import "context"

type (
	noopLogger  struct{}
	noopTracer  struct{}
	noopSpan    struct{}
	noopMetrics struct{}
)

// NewNoopLogger returns a Logger that discards every record. Used as the
// default in tests and in any environment where structured logging has not
// been configured.
func NewNoopLogger() Logger { return noopLogger{} }

// NewNoopTracer returns a Tracer whose spans record nothing.
func NewNoopTracer() Tracer { return noopTracer{} }

// NewNoopMetrics returns a Metrics recorder that discards every data point.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

func (noopTracer) Start(ctx context.Context, _ string, _ ...KV) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) SetError(error) {}
func (noopSpan) End()           {}

func (noopMetrics) IncCounter(context.Context, string, int64, ...KV)        {}
func (noopMetrics) RecordDuration(context.Context, string, float64, ...KV) {}
