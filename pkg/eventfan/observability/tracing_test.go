package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
)

// newRecordingSpans returns a SpanManager backed by an in-memory exporter.
func newRecordingSpans(t *testing.T) (SpanManager, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewSpanManagerFor(tp), exporter
}

func attrValue(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func TestStartPublishSpan(t *testing.T) {
	spans, exporter := newRecordingSpans(t)

	root := event.New(event.UserRegistered, nil, event.WithEventID("evt-1"))
	child := event.NewFromParent(root, event.UserProfileCreation, nil, event.WithEventID("evt-2"))

	ctx, span := spans.StartPublishSpan(context.Background(), child)
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
	spans.EndSpanWithError(span, nil)

	recorded := exporter.GetSpans()
	require.Len(t, recorded, 1)
	assert.Equal(t, SpanPublish, recorded[0].Name)
	assert.Equal(t, "evt-2", attrValue(recorded[0].Attributes, "event.id"))
	assert.Equal(t, "user.profile_creation", attrValue(recorded[0].Attributes, "event.kind"))
	assert.Equal(t, "evt-1", attrValue(recorded[0].Attributes, "event.correlation_id"))
	assert.Equal(t, "evt-1", attrValue(recorded[0].Attributes, "event.causation_id"))
}

func TestListenerSpanIsChildOfPublish(t *testing.T) {
	spans, exporter := newRecordingSpans(t)

	ctx, parent := spans.StartPublishSpan(context.Background(), event.New(event.OrderCreated, nil))
	_, child := spans.StartListenerSpan(ctx, "order.created", "audit", "sync")
	spans.EndSpanWithError(child, nil)
	spans.EndSpanWithError(parent, nil)

	recorded := exporter.GetSpans()
	require.Len(t, recorded, 2)

	listenerSpan := recorded[0]
	assert.Equal(t, SpanListener, listenerSpan.Name)
	assert.Equal(t, "audit", attrValue(listenerSpan.Attributes, "listener.name"))
	assert.Equal(t, "sync", attrValue(listenerSpan.Attributes, "listener.mode"))
	assert.Equal(t, recorded[1].SpanContext.SpanID(), listenerSpan.Parent.SpanID())
	assert.Equal(t, codes.Ok, listenerSpan.Status.Code)
	assert.Empty(t, attrValue(recorded[1].Attributes, "event.causation_id"))
}

func TestEndSpanWithError(t *testing.T) {
	spans, exporter := newRecordingSpans(t)

	_, span := spans.StartListenerSpan(context.Background(), "k", "l", "async")
	spans.EndSpanWithError(span, errors.New("boom"))

	recorded := exporter.GetSpans()
	require.Len(t, recorded, 1)
	assert.Equal(t, codes.Error, recorded[0].Status.Code)
	assert.Equal(t, "boom", recorded[0].Status.Description)
	require.Len(t, recorded[0].Events, 1)
	assert.Equal(t, "exception", recorded[0].Events[0].Name)

	assert.NotPanics(t, func() { spans.EndSpanWithError(nil, nil) })
}

func TestAddSpanEvent(t *testing.T) {
	spans, exporter := newRecordingSpans(t)

	ctx, span := spans.StartPublishSpan(context.Background(), event.New(event.OrderCreated, nil))
	spans.AddSpanEvent(ctx, "listener.submitted", attribute.String("listener.name", "email"))
	span.End()

	recorded := exporter.GetSpans()
	require.Len(t, recorded, 1)
	require.Len(t, recorded[0].Events, 1)
	assert.Equal(t, "listener.submitted", recorded[0].Events[0].Name)

	assert.NotPanics(t, func() { spans.AddSpanEvent(context.Background(), "ignored") })
}

func TestNoopSpanManager(t *testing.T) {
	var m SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := m.StartPublishSpan(ctx, event.New("k", nil))
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	got, span = m.StartListenerSpan(ctx, "k", "l", "sync")
	assert.Equal(t, ctx, got)
	m.EndSpanWithError(span, errors.New("ignored"))
	m.AddSpanEvent(ctx, "ignored")
}
