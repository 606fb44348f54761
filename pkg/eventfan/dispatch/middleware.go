package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/listener"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
)

// Middleware decorates a listener invocation. reg describes the listener
// being wrapped.
type Middleware func(reg listener.Registration, next listener.Listener) listener.Listener

// ChainMiddleware applies middleware to a listener, first element outermost.
func ChainMiddleware(reg listener.Registration, l listener.Listener, middleware ...Middleware) listener.Listener {
	for i := len(middleware) - 1; i >= 0; i-- {
		l = middleware[i](reg, l)
	}
	return l
}

// LoggingMiddleware logs each invocation at debug level with its duration
// and the goroutine (worker) it ran on.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(reg listener.Registration, next listener.Listener) listener.Listener {
		return listener.Func(func(ctx context.Context, evt event.Event) error {
			start := time.Now()
			err := next.Handle(ctx, evt)

			attrs := []any{
				slog.String("listener", reg.Name),
				slog.String("mode", reg.Mode.String()),
				slog.String("event_id", evt.ID()),
				slog.String("event_kind", evt.Kind().String()),
				slog.String("worker", pool.WorkerName(ctx)),
				slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			logger.DebugContext(ctx, "listener invoked", attrs...)
			return err
		})
	}
}

// RecoveryMiddleware converts listener panics into *ListenerError and logs
// the stack.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(reg listener.Registration, next listener.Listener) listener.Listener {
		return listener.Func(func(ctx context.Context, evt event.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "listener panic",
						slog.String("listener", reg.Name),
						slog.String("event_id", evt.ID()),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					err = &ListenerError{
						Event:    evt,
						Listener: reg.Name,
						Mode:     reg.Mode,
						Err:      fmt.Errorf("panic: %v", r),
						Panic:    r,
					}
				}
			}()
			return next.Handle(ctx, evt)
		})
	}
}

// TimeoutMiddleware bounds each invocation's context. Listeners must honor
// ctx for the bound to take effect.
func TimeoutMiddleware(d time.Duration) Middleware {
	return func(_ listener.Registration, next listener.Listener) listener.Listener {
		if d <= 0 {
			return next
		}
		return listener.Func(func(ctx context.Context, evt event.Event) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Handle(ctx, evt)
		})
	}
}
