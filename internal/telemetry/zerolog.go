package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// zerologLogger adapts a zerolog.Logger to the Logger interface, taking a
// leveled-keyvals shape around the zerolog backend.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger constructs a Logger backed by zerolog. Pass the process's
// configured zerolog.Logger (typically built once in main and carrying
// output, level, and timestamp settings).
func NewZerologLogger(log zerolog.Logger) Logger {
	return &zerologLogger{log: log}
}

func (z *zerologLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.event(z.log.Debug(), msg, keyvals)
}

func (z *zerologLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.event(z.log.Info(), msg, keyvals)
}

func (z *zerologLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.event(z.log.Warn(), msg, keyvals)
}

func (z *zerologLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.event(z.log.Error(), msg, keyvals)
}

func (z *zerologLogger) event(evt *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		evt = evt.Interface(key, keyvals[i+1])
	}
	evt.Msg(msg)
}
