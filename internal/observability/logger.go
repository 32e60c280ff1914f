package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/graphdash/graphdash/internal/config"
)

type traceCtxKey struct{}

// NewLogger builds the process-wide slog logger. Output format and level
// follow the observability config; the service name and profile ride along
// on every record.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceCtxKey{}, traceID)
}

// TraceIDFromContext returns the trace id stamped by TraceMiddleware, or ""
// for contexts that never passed through it.
func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceCtxKey{}).(string)
	return traceID
}
