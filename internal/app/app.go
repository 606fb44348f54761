// Package app is the composition root: it wires configuration, the worker
// pool, the dispatcher, the shop and the HTTP server together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/randalmurphal/eventfan/pkg/eventfan/config"
	"github.com/randalmurphal/eventfan/pkg/eventfan/dispatch"
	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/logging"
	"github.com/randalmurphal/eventfan/pkg/eventfan/outbound"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
	"github.com/randalmurphal/eventfan/pkg/eventfan/shop"
)

// App holds the wired components.
type App struct {
	Settings   *config.Settings
	Logger     *slog.Logger
	Pool       *pool.Pool
	Dispatcher *dispatch.Dispatcher
	Orders     *shop.OrderService
	Users      *shop.UserService
	Activity   *shop.ActivityLog

	server    *http.Server
	pubSub    *gochannel.GoChannel
	listeners Listeners

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	serveErr chan error
	external []event.Event
}

// NewApp assembles an App. listeners is taken so the registry is wired and
// sealed before anything can publish.
func NewApp(
	settings *config.Settings,
	logger *slog.Logger,
	p *pool.Pool,
	d *dispatch.Dispatcher,
	orders *shop.OrderService,
	users *shop.UserService,
	activity *shop.ActivityLog,
	server *http.Server,
	pubSub *gochannel.GoChannel,
	listeners Listeners,
) *App {
	return &App{
		Settings:   settings,
		Logger:     logging.Module(logger, "app"),
		Pool:       p,
		Dispatcher: d,
		Orders:     orders,
		Users:      users,
		Activity:   activity,
		server:     server,
		pubSub:     pubSub,
		listeners:  listeners,
	}
}

// StartConsumers subscribes to the outbound topic, standing in for the
// external system that receives notifications.
func (a *App) StartConsumers(ctx context.Context) error {
	if !a.Settings.Outbound.Enabled {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	return outbound.Consume(ctx, a.pubSub, a.Settings.Outbound.Topic, a.Logger,
		func(_ context.Context, evt event.Event) error {
			a.mu.Lock()
			a.external = append(a.external, evt)
			a.mu.Unlock()
			a.Logger.Info("external system notified",
				slog.String("event_id", evt.ID()),
				slog.String("target", evt.String(event.KeyTarget, "")),
				slog.Int64("user_id", evt.Int64(event.KeyUserID, 0)),
			)
			return nil
		})
}

// External returns the notifications received from the outbound topic.
func (a *App) External() []event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]event.Event(nil), a.external...)
}

// Start starts the consumers and begins serving HTTP. It returns once the
// listener is bound.
func (a *App) Start(ctx context.Context) error {
	if err := a.StartConsumers(ctx); err != nil {
		return err
	}

	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.server.Addr, err)
	}

	a.mu.Lock()
	a.listener = ln
	a.serveErr = make(chan error, 1)
	a.mu.Unlock()

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	a.Logger.Info("eventfan started",
		slog.String("addr", ln.Addr().String()),
		slog.Int("event_kinds", a.listeners.Kinds),
		slog.Int("listeners", a.listeners.Total),
		slog.String("logging", logging.Describe(a.Settings.Logging)),
	)
	return nil
}

// Addr returns the bound HTTP address, empty before Start.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run starts the app and blocks until ctx is done or the server fails,
// then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-a.serveErr:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), a.Settings.HTTP.ShutdownTimeout)
	defer cancel()
	_, stopErr := a.Stop(stopCtx)
	return errors.Join(serveErr, stopErr)
}

// Stop stops accepting requests, drains the worker pool and stops the
// consumers. It returns the pool's drain report.
func (a *App) Stop(ctx context.Context) (pool.DrainReport, error) {
	var errs []error

	a.mu.Lock()
	serving := a.listener != nil
	a.mu.Unlock()
	if serving {
		a.Logger.Info("shutting down http server")
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	report := a.Pool.Shutdown(a.Pool.Config().AwaitTermination)
	if report.TimedOut {
		errs = append(errs, fmt.Errorf("%w: %d discarded", pool.ErrDrainTimeout, report.Discarded))
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	return report, errors.Join(errs...)
}
