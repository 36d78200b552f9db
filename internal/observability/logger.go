package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/datasetviz/datasetviz/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// NewLogger builds the process logger. Debug level also records the source
// location of each entry.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		return discardLogger
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.Observability.LogLevel,
		AddSource: cfg.Observability.LogLevel <= slog.LevelDebug,
	}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// Component returns logger tagged with the component name, or a discarding
// logger when logger is nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return discardLogger
	}
	return logger.With(slog.String("component", name))
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
