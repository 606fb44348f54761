package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
)

// Span names.
const (
	SpanPublish  = "eventfan.publish"
	SpanListener = "eventfan.listener"
)

// SpanManager opens and closes the dispatcher's spans. NoopSpanManager is
// used when tracing is off.
type SpanManager interface {
	// StartPublishSpan covers one Publish call.
	StartPublishSpan(ctx context.Context, evt event.Event) (context.Context, trace.Span)

	// StartListenerSpan covers one listener invocation. Sync listeners
	// nest under the publish span; async ones under it too, through the
	// detached context handed to the worker.
	StartListenerSpan(ctx context.Context, kind, listenerName, mode string) (context.Context, trace.Span)

	// EndSpanWithError sets the status from err and ends span.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent annotates the span carried by ctx, if it is recording.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager traces through the global tracer provider as it is at call
// time, so call otel.SetTracerProvider first.
func NewSpanManager() SpanManager {
	return NewSpanManagerFor(otel.GetTracerProvider())
}

// NewSpanManagerFor traces through tp.
func NewSpanManagerFor(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer(meterName)}
}

func (m *otelSpanManager) StartPublishSpan(ctx context.Context, evt event.Event) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("event.id", evt.ID()),
		attribute.String("event.kind", evt.Kind().String()),
		attribute.String("event.correlation_id", evt.CorrelationID()),
	}
	if cause := evt.CausationID(); cause != "" {
		attrs = append(attrs, attribute.String("event.causation_id", cause))
	}
	return m.tracer.Start(ctx, SpanPublish, trace.WithAttributes(attrs...))
}

func (m *otelSpanManager) StartListenerSpan(ctx context.Context, kind, listenerName, mode string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, SpanListener, trace.WithAttributes(
		attribute.String("event.kind", kind),
		attribute.String("listener.name", listenerName),
		attribute.String("listener.mode", mode),
	))
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
