package observability

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogSpanExporter writes finished spans to a slog logger at debug level.
// It stands in for a collector in single-process deployments.
type LogSpanExporter struct {
	logger *slog.Logger
}

var _ sdktrace.SpanExporter = (*LogSpanExporter)(nil)

// NewLogSpanExporter creates an exporter writing to logger.
func NewLogSpanExporter(logger *slog.Logger) *LogSpanExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSpanExporter{logger: logger.With(slog.String("component", "tracing"))}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []any{
			slog.String("span", s.Name()),
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.String("span_id", s.SpanContext().SpanID().String()),
			slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
			slog.String("status", s.Status().Code.String()),
		}
		if s.Parent().IsValid() {
			attrs = append(attrs, slog.String("parent_id", s.Parent().SpanID().String()))
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		e.logger.DebugContext(ctx, "span finished", attrs...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogSpanExporter) Shutdown(context.Context) error {
	return nil
}

// NewTracerProvider returns an SDK tracer provider that exports to logger
// synchronously. Callers own Shutdown.
func NewTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(NewLogSpanExporter(logger)),
	)
}
