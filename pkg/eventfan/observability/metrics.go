package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/randalmurphal/eventfan"

// Submission outcomes recorded by the worker pool.
const (
	OutcomeStarted    = "started"
	OutcomeQueued     = "queued"
	OutcomeExtra      = "extra_worker"
	OutcomeCallerRuns = "caller_runs"
	OutcomeBlocked    = "blocked"
	OutcomeRejected   = "rejected"
	OutcomeShutdown   = "shutdown"
)

// PoolSnapshot reports live pool occupancy for observable gauges.
type PoolSnapshot func() (workers, queued int64)

// Recorder records dispatcher and pool metrics. NoopMetrics is used when
// metrics are off.
type Recorder interface {
	// RecordPublish records an event entering Publish.
	RecordPublish(ctx context.Context, kind string)

	// RecordListener records one listener invocation with its duration and error status.
	RecordListener(ctx context.Context, kind, listenerName, mode string, duration time.Duration, err error)

	// RecordSubmission records how the pool handled a submitted task.
	RecordSubmission(ctx context.Context, outcome string)

	// RecordDiscarded records queued tasks dropped by a timed-out shutdown.
	RecordDiscarded(ctx context.Context, count int64)

	// ObservePool registers gauges for worker count and queue depth.
	ObservePool(snapshot PoolSnapshot) error
}

// otelMetrics implements Recorder using OpenTelemetry.
type otelMetrics struct {
	meter metric.Meter

	publishes       metric.Int64Counter
	listenerRuns    metric.Int64Counter
	listenerLatency metric.Float64Histogram
	listenerErrors  metric.Int64Counter
	submissions     metric.Int64Counter
	discarded       metric.Int64Counter
	workers         metric.Int64ObservableGauge
	queued          metric.Int64ObservableGauge
}

// newOtelMetrics creates the instrument set on the given provider.
func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter(meterName)

	publishes, err := meter.Int64Counter("eventfan.events.published",
		metric.WithDescription("Number of events published"),
	)
	if err != nil {
		return nil, err
	}

	listenerRuns, err := meter.Int64Counter("eventfan.listener.executions",
		metric.WithDescription("Number of listener executions"),
	)
	if err != nil {
		return nil, err
	}

	listenerLatency, err := meter.Float64Histogram("eventfan.listener.latency_ms",
		metric.WithDescription("Listener execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	listenerErrors, err := meter.Int64Counter("eventfan.listener.errors",
		metric.WithDescription("Number of listener failures"),
	)
	if err != nil {
		return nil, err
	}

	submissions, err := meter.Int64Counter("eventfan.pool.submissions",
		metric.WithDescription("Pool submissions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	discarded, err := meter.Int64Counter("eventfan.pool.discarded",
		metric.WithDescription("Queued tasks discarded at shutdown"),
	)
	if err != nil {
		return nil, err
	}

	workers, err := meter.Int64ObservableGauge("eventfan.pool.workers",
		metric.WithDescription("Live worker goroutines"),
	)
	if err != nil {
		return nil, err
	}

	queued, err := meter.Int64ObservableGauge("eventfan.pool.queued",
		metric.WithDescription("Tasks waiting in the pool queue"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		meter:           meter,
		publishes:       publishes,
		listenerRuns:    listenerRuns,
		listenerLatency: listenerLatency,
		listenerErrors:  listenerErrors,
		submissions:     submissions,
		discarded:       discarded,
		workers:         workers,
		queued:          queued,
	}, nil
}

// NewRecorderFor returns a Recorder on provider, typically the Prometheus
// exporter's. Instrument creation failures degrade to NoopMetrics.
func NewRecorderFor(provider metric.MeterProvider) Recorder {
	m, err := newOtelMetrics(provider)
	if err != nil {
		slog.Warn("metrics disabled", slog.String("reason", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records a published event.
func (m *otelMetrics) RecordPublish(ctx context.Context, kind string) {
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("event_kind", kind)))
}

// RecordListener records a listener invocation.
func (m *otelMetrics) RecordListener(ctx context.Context, kind, listenerName, mode string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event_kind", kind),
		attribute.String("listener", listenerName),
		attribute.String("mode", mode),
	)

	m.listenerRuns.Add(ctx, 1, attrs)
	m.listenerLatency.Record(ctx, float64(duration.Milliseconds()), attrs)

	if err != nil {
		m.listenerErrors.Add(ctx, 1, attrs)
	}
}

// RecordSubmission records a pool submission outcome.
func (m *otelMetrics) RecordSubmission(ctx context.Context, outcome string) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDiscarded records discarded tasks.
func (m *otelMetrics) RecordDiscarded(ctx context.Context, count int64) {
	if count <= 0 {
		return
	}
	m.discarded.Add(ctx, count)
}

// ObservePool registers the occupancy callback.
func (m *otelMetrics) ObservePool(snapshot PoolSnapshot) error {
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		workers, queued := snapshot()
		o.ObserveInt64(m.workers, workers)
		o.ObserveInt64(m.queued, queued)
		return nil
	}, m.workers, m.queued)
	return err
}
