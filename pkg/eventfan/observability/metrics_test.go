package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider backed by a manual reader.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})

	return reader, provider
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor totals an int64 sum's data points matching key=value (all points when key is empty).
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")

	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		for _, attr := range dp.Attributes.ToSlice() {
			if string(attr.Key) == key && attr.Value.AsString() == value {
				total += dp.Value
			}
		}
	}
	return total
}

func TestNewRecorderFor(t *testing.T) {
	reader, provider := setupMetricsTest(t)

	recorder := NewRecorderFor(provider)
	_, isNoop := recorder.(NoopMetrics)
	require.False(t, isNoop)

	recorder.RecordPublish(context.Background(), "order.created")
	metric := findMetric(collectMetrics(t, reader), "eventfan.events.published")
	require.NotNil(t, metric)
	assert.Equal(t, int64(1), sumFor(t, metric, "event_kind", "order.created"))
}

func TestRecordListener(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m, err := newOtelMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records execution count", func(t *testing.T) {
		m.RecordListener(ctx, "order.created", "email", "async", 50*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "eventfan.listener.executions")
		require.NotNil(t, metric)
		assert.GreaterOrEqual(t, sumFor(t, metric, "listener", "email"), int64(1))
	})

	t.Run("records latency", func(t *testing.T) {
		m.RecordListener(ctx, "order.created", "inventory", "async", 100*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "eventfan.listener.latency_ms")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("records errors when present", func(t *testing.T) {
		m.RecordListener(ctx, "order.created", "audit", "sync", time.Millisecond, errors.New("audit failed"))

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "eventfan.listener.errors")
		require.NotNil(t, metric)
		assert.Equal(t, int64(1), sumFor(t, metric, "listener", "audit"))
	})
}

func TestRecordPublishAndSubmission(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m, err := newOtelMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordPublish(ctx, "order.created")
	m.RecordPublish(ctx, "order.created")
	m.RecordSubmission(ctx, OutcomeQueued)
	m.RecordSubmission(ctx, OutcomeCallerRuns)
	m.RecordDiscarded(ctx, 3)
	m.RecordDiscarded(ctx, 0)

	rm := collectMetrics(t, reader)

	publishes := findMetric(rm, "eventfan.events.published")
	require.NotNil(t, publishes)
	assert.Equal(t, int64(2), sumFor(t, publishes, "event_kind", "order.created"))

	submissions := findMetric(rm, "eventfan.pool.submissions")
	require.NotNil(t, submissions)
	assert.Equal(t, int64(1), sumFor(t, submissions, "outcome", OutcomeCallerRuns))

	discarded := findMetric(rm, "eventfan.pool.discarded")
	require.NotNil(t, discarded)
	assert.Equal(t, int64(3), sumFor(t, discarded, "", ""))
}

func TestObservePool(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m, err := newOtelMetrics(provider)
	require.NoError(t, err)

	require.NoError(t, m.ObservePool(func() (int64, int64) { return 4, 9 }))

	rm := collectMetrics(t, reader)

	workers := findMetric(rm, "eventfan.pool.workers")
	require.NotNil(t, workers)
	gauge, ok := workers.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "Expected Gauge type")
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)

	queued := findMetric(rm, "eventfan.pool.queued")
	require.NotNil(t, queued)
	gauge, ok = queued.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(9), gauge.DataPoints[0].Value)
}

func TestNoopMetrics(t *testing.T) {
	var r Recorder = NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		r.RecordPublish(ctx, "k")
		r.RecordListener(ctx, "k", "l", "sync", time.Second, errors.New("x"))
		r.RecordSubmission(ctx, OutcomeRejected)
		r.RecordDiscarded(ctx, 1)
	})
	assert.NoError(t, r.ObservePool(func() (int64, int64) { return 0, 0 }))
}
