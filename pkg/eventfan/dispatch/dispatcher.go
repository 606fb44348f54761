// Package dispatch fans events out to their registered listeners.
//
// Sync listeners run inline on the publishing goroutine in rank order and
// fail fast. Async listeners are then submitted to the worker pool in rank
// order and the publisher returns without waiting for them. A listener may
// publish a derived event through the Publisher it captured at wiring time;
// the nested publish runs on whatever goroutine the listener occupies.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/listener"
	"github.com/randalmurphal/eventfan/pkg/eventfan/observability"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
)

// Publisher is the capability handed to services and chaining listeners.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt event.Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Resolver looks up the ordered registrations for a kind.
type Resolver interface {
	Resolve(kind event.Kind) []listener.Registration
}

// Submitter accepts async work. *pool.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, task pool.Task) error
}

// Config configures dispatcher behavior.
type Config struct {
	// MaxDepth stops runaway chains: a publish at this depth is rejected.
	// Default: 10
	MaxDepth int

	// Logger receives publish and sync failure logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records publishes and listener executions.
	// Default: observability.NoopMetrics{}
	Metrics observability.Recorder

	// Spans traces publishes and listener invocations.
	// Default: observability.NoopSpanManager{}
	Spans observability.SpanManager
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxDepth: 10,
}

// Dispatcher routes events to listeners. Safe for concurrent use.
type Dispatcher struct {
	registry Resolver
	pool     Submitter
	config   Config
	logger   *slog.Logger
	metrics  observability.Recorder
	spans    observability.SpanManager

	mu         sync.RWMutex
	middleware []Middleware
}

var _ Publisher = (*Dispatcher)(nil)

// New creates a dispatcher over a registry and a worker pool.
func New(registry Resolver, submitter Submitter, config Config) *Dispatcher {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultConfig.MaxDepth
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	spans := config.Spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}

	return &Dispatcher{
		registry: registry,
		pool:     submitter,
		config:   config,
		logger:   logger.With(slog.String("component", "dispatcher")),
		metrics:  metrics,
		spans:    spans,
	}
}

// Use adds middleware around every listener invocation. The first middleware
// added is the outermost.
func (d *Dispatcher) Use(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, mw)
}

// Publish delivers evt to its listeners.
//
// It returns a *ListenerError from the first failing sync listener (later
// listeners, sync and async, do not run), a *SubmitError if any async
// listener could not be submitted, or an ErrMaxDepth error for runaway chains.
// Async listener failures are never returned.
func (d *Dispatcher) Publish(ctx context.Context, evt event.Event) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	depth := Depth(ctx)
	if depth >= d.config.MaxDepth {
		d.logger.Warn("event chain too deep",
			slog.String("event_id", evt.ID()),
			slog.String("event_kind", evt.Kind().String()),
			slog.Int("depth", depth),
		)
		return fmt.Errorf("%w: %s event %s at depth %d (max %d)",
			ErrMaxDepth, evt.Kind(), evt.ID(), depth, d.config.MaxDepth)
	}

	kind := evt.Kind().String()
	d.metrics.RecordPublish(ctx, kind)

	regs := d.registry.Resolve(evt.Kind())
	if len(regs) == 0 {
		return nil
	}
	syncRegs, asyncRegs := listener.Partition(regs)
	observability.LogPublish(d.logger, evt, len(syncRegs), len(asyncRegs), depth)

	ctx, span := d.spans.StartPublishSpan(ctx, evt)
	defer func() { d.spans.EndSpanWithError(span, err) }()

	childCtx := withDepth(ctx, depth+1)

	for _, reg := range syncRegs {
		if lerr := d.invoke(childCtx, reg, evt); lerr != nil {
			observability.LogListenerFailure(d.logger, kind, reg.Name, reg.Mode.String(), pool.WorkerName(ctx), lerr)
			return lerr
		}
	}

	if len(asyncRegs) == 0 {
		return nil
	}

	// Async work outlives this call: keep values, drop cancellation.
	asyncCtx := context.WithoutCancel(childCtx)

	var failed []*ListenerError
	for _, reg := range asyncRegs {
		task := pool.Task{
			Name:    reg.Name,
			Kind:    kind,
			EventID: evt.ID(),
			Context: asyncCtx,
			Run: func(taskCtx context.Context) error {
				return d.invoke(taskCtx, reg, evt)
			},
		}
		serr := d.pool.Submit(ctx, task)
		if serr == nil {
			d.spans.AddSpanEvent(ctx, "listener.submitted", attribute.String("listener.name", reg.Name))
			continue
		}
		d.spans.AddSpanEvent(ctx, "listener.rejected",
			attribute.String("listener.name", reg.Name),
			attribute.String("error", serr.Error()),
		)
		failed = append(failed, &ListenerError{
			Event:    evt,
			Listener: reg.Name,
			Mode:     listener.Async,
			Err:      serr,
		})
	}

	if len(failed) > 0 {
		return &SubmitError{Event: evt, Failed: failed}
	}
	return nil
}

// invoke runs one listener through the middleware chain, converting errors
// and panics into *ListenerError.
func (d *Dispatcher) invoke(ctx context.Context, reg listener.Registration, evt event.Event) error {
	kind := evt.Kind().String()
	mode := reg.Mode.String()

	ctx, span := d.spans.StartListenerSpan(ctx, kind, reg.Name, mode)
	start := time.Now()

	err := d.call(ctx, reg, evt)

	d.metrics.RecordListener(ctx, kind, reg.Name, mode, time.Since(start), err)
	d.spans.EndSpanWithError(span, err)
	return err
}

func (d *Dispatcher) call(ctx context.Context, reg listener.Registration, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ListenerError{
				Event:    evt,
				Listener: reg.Name,
				Mode:     reg.Mode,
				Err:      fmt.Errorf("panic: %v", r),
				Panic:    r,
			}
		}
	}()

	herr := d.wrap(reg).Handle(ctx, evt)
	if herr == nil {
		return nil
	}
	// Already attributed to this registration (e.g. by RecoveryMiddleware).
	if lerr, ok := herr.(*ListenerError); ok && lerr.Listener == reg.Name && lerr.Event.ID() == evt.ID() {
		return lerr
	}
	return &ListenerError{
		Event:    evt,
		Listener: reg.Name,
		Mode:     reg.Mode,
		Err:      herr,
	}
}

func (d *Dispatcher) wrap(reg listener.Registration) listener.Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return ChainMiddleware(reg, reg.Listener, d.middleware...)
}

type depthKey struct{}

// Depth returns how many publishes deep the current chain is. A publish
// from outside any listener is depth 0.
func Depth(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	if v, ok := ctx.Value(depthKey{}).(int); ok {
		return v
	}
	return 0
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
