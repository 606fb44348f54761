package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
)

// NoopMetrics is a Recorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

var _ Recorder = NoopMetrics{}

// RecordPublish does nothing.
func (NoopMetrics) RecordPublish(_ context.Context, _ string) {}

// RecordListener does nothing.
func (NoopMetrics) RecordListener(_ context.Context, _, _, _ string, _ time.Duration, _ error) {}

// RecordSubmission does nothing.
func (NoopMetrics) RecordSubmission(_ context.Context, _ string) {}

// RecordDiscarded does nothing.
func (NoopMetrics) RecordDiscarded(_ context.Context, _ int64) {}

// ObservePool does nothing.
func (NoopMetrics) ObservePool(_ PoolSnapshot) error { return nil }

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartPublishSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartPublishSpan(ctx context.Context, _ event.Event) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartListenerSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartListenerSpan(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
