// Package observability provides the dispatcher's structured logging,
// metrics and tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry, optionally exposed to Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
)

// EnrichLogger adds event identity to a logger.
// Returns a new logger with event_id, event_kind and correlation_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, evt)
//	enriched.Info("reserving stock") // includes event_id, event_kind, correlation_id
func EnrichLogger(logger *slog.Logger, evt event.Event) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", evt.ID()),
		slog.String("event_kind", evt.Kind().String()),
		slog.String("correlation_id", evt.CorrelationID()),
	)
}

// LogPublish logs an event being fanned out.
func LogPublish(logger *slog.Logger, evt event.Event, syncCount, asyncCount, depth int) {
	if logger == nil {
		return
	}
	logger.Debug("publishing event",
		slog.String("event_id", evt.ID()),
		slog.String("event_kind", evt.Kind().String()),
		slog.Int("sync_listeners", syncCount),
		slog.Int("async_listeners", asyncCount),
		slog.Int("depth", depth),
	)
}

// LogListenerFailure logs a listener that returned an error or panicked.
// worker is empty when the listener ran on the publishing goroutine.
func LogListenerFailure(logger *slog.Logger, kind, listenerName, mode, worker string, err error) {
	if logger == nil {
		return
	}
	logger.Error("listener failed",
		slog.String("event_kind", kind),
		slog.String("listener", listenerName),
		slog.String("mode", mode),
		slog.String("worker", worker),
		slog.String("error", err.Error()),
	)
}

// LogSaturation logs a submission that hit a full pool.
func LogSaturation(logger *slog.Logger, taskName, kind, policy string, workers, queued int) {
	if logger == nil {
		return
	}
	logger.Warn("worker pool saturated",
		slog.String("task", taskName),
		slog.String("event_kind", kind),
		slog.String("policy", policy),
		slog.Int("workers", workers),
		slog.Int("queued", queued),
	)
}

// LogShutdown logs the outcome of a pool drain.
func LogShutdown(logger *slog.Logger, completed, discarded, running int, timedOut bool, elapsed time.Duration) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if timedOut || discarded > 0 {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "worker pool shut down",
		slog.Int("completed", completed),
		slog.Int("discarded", discarded),
		slog.Int("running", running),
		slog.Bool("timed_out", timedOut),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
