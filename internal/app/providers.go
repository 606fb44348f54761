package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/wire"
	"go.opentelemetry.io/otel"

	"github.com/randalmurphal/eventfan/pkg/eventfan/api"
	"github.com/randalmurphal/eventfan/pkg/eventfan/config"
	"github.com/randalmurphal/eventfan/pkg/eventfan/dispatch"
	eferrors "github.com/randalmurphal/eventfan/pkg/eventfan/errors"
	"github.com/randalmurphal/eventfan/pkg/eventfan/listener"
	"github.com/randalmurphal/eventfan/pkg/eventfan/logging"
	"github.com/randalmurphal/eventfan/pkg/eventfan/observability"
	"github.com/randalmurphal/eventfan/pkg/eventfan/outbound"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
	"github.com/randalmurphal/eventfan/pkg/eventfan/shop"
)

// ConfigPath is the optional config file handed to InitializeApp.
type ConfigPath string

// activityLimit bounds the in-memory activity log.
const activityLimit = 1000

// InfraSet provides configuration, logging, telemetry and storage.
var InfraSet = wire.NewSet(
	ProvideSettings,
	ProvideLogger,
	ProvideTelemetry,
	ProvideStore,
	wire.Bind(new(shop.Store), new(*shop.SQLiteStore)),
	ProvidePubSub,
	ProvideNotifier,
)

// CoreSet provides the registry, worker pool and dispatcher.
var CoreSet = wire.NewSet(
	listener.NewRegistry,
	ProvidePool,
	ProvideDispatcher,
	wire.Bind(new(dispatch.Publisher), new(*dispatch.Dispatcher)),
)

// ShopSet provides the services, their listeners and the HTTP surface.
var ShopSet = wire.NewSet(
	ProvideActivityLog,
	ProvideListeners,
	shop.NewOrderService,
	shop.NewUserService,
	ProvideAPI,
	ProvideHTTPServer,
)

// ProviderSet is everything InitializeApp needs.
var ProviderSet = wire.NewSet(InfraSet, CoreSet, ShopSet, NewApp)

// ProvideSettings loads configuration from path, the environment and defaults.
func ProvideSettings(path ConfigPath) (*config.Settings, error) {
	return config.Load(string(path))
}

// ProvideLogger builds the process logger and makes it the slog default.
func ProvideLogger(s *config.Settings) (*slog.Logger, func(), error) {
	logger, closer, err := logging.New(s.Logging)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, func() { _ = closer.Close() }, nil
}

// Telemetry bundles the metric recorder, span manager and /metrics handler.
type Telemetry struct {
	Metrics observability.Recorder
	Spans   observability.SpanManager

	// Handler serves Prometheus metrics; nil when metrics are disabled.
	Handler http.Handler
}

// ProvideTelemetry wires OpenTelemetry per the metrics section. Disabled
// parts fall back to no-op implementations.
func ProvideTelemetry(s *config.Settings, logger *slog.Logger) (*Telemetry, func(), error) {
	tel := &Telemetry{
		Metrics: observability.NoopMetrics{},
		Spans:   observability.NoopSpanManager{},
	}
	var shutdowns []func(context.Context) error

	if s.Metrics.Enabled {
		exporter, err := observability.NewPrometheusExporter()
		if err != nil {
			return nil, nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		tel.Metrics = observability.NewRecorderFor(exporter.MeterProvider())
		tel.Handler = exporter.Handler()
		shutdowns = append(shutdowns, exporter.Shutdown)
	}

	if s.Metrics.Tracing {
		tp := observability.NewTracerProvider(logger)
		otel.SetTracerProvider(tp)
		tel.Spans = observability.NewSpanManagerFor(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, shutdown := range shutdowns {
			if err := shutdown(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
			}
		}
	}
	return tel, cleanup, nil
}

// ProvideStore opens the SQLite store.
func ProvideStore(s *config.Settings) (*shop.SQLiteStore, func(), error) {
	store, err := shop.NewSQLiteStore(s.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvidePubSub creates the in-memory outbound transport.
func ProvidePubSub(logger *slog.Logger) (*gochannel.GoChannel, func()) {
	ps := outbound.NewGoChannel(logging.Module(logger, "watermill"))
	return ps, func() { _ = ps.Close() }
}

// ProvideNotifier creates the outbound notifier, or nil when disabled.
func ProvideNotifier(s *config.Settings, ps *gochannel.GoChannel, logger *slog.Logger) *outbound.Notifier {
	if !s.Outbound.Enabled {
		return nil
	}
	retry := eferrors.NewRetryConfig(
		eferrors.WithMaxAttempts(s.Outbound.MaxAttempts),
		eferrors.WithInitialBackoff(s.Outbound.InitialBackoff),
	)
	return outbound.NewNotifier(ps, outbound.Config{
		Topic:  s.Outbound.Topic,
		Retry:  retry,
		Logger: logger,
	})
}

// ProvidePool starts the worker pool. The cleanup drains it.
func ProvidePool(s *config.Settings, logger *slog.Logger, tel *Telemetry) (*pool.Pool, func(), error) {
	cfg, err := s.PoolConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.Logger = logging.Module(logger, "pool")
	cfg.Metrics = tel.Metrics

	p, err := pool.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

// ProvideDispatcher creates the dispatcher with recovery, logging and the
// optional per-listener timeout installed.
func ProvideDispatcher(reg *listener.Registry, p *pool.Pool, s *config.Settings, logger *slog.Logger, tel *Telemetry) *dispatch.Dispatcher {
	cfg := s.DispatchConfig()
	cfg.Logger = logging.Module(logger, "dispatch")
	cfg.Metrics = tel.Metrics
	cfg.Spans = tel.Spans

	d := dispatch.New(reg, p, cfg)
	d.Use(dispatch.RecoveryMiddleware(cfg.Logger))
	d.Use(dispatch.LoggingMiddleware(cfg.Logger))
	if s.Dispatch.ListenerTimeout > 0 {
		d.Use(dispatch.TimeoutMiddleware(s.Dispatch.ListenerTimeout))
	}
	return d
}

// ProvideActivityLog creates the shared activity log.
func ProvideActivityLog() *shop.ActivityLog {
	return shop.NewActivityLog(activityLimit)
}

// Listeners marks the registry as wired and sealed.
type Listeners struct {
	Kinds int
	Total int
}

// ProvideListeners registers the shop listeners and seals the registry.
func ProvideListeners(
	reg *listener.Registry,
	pub dispatch.Publisher,
	store shop.Store,
	activity *shop.ActivityLog,
	notifier *outbound.Notifier,
	s *config.Settings,
	logger *slog.Logger,
) (Listeners, error) {
	deps := shop.Deps{
		Store:    store,
		Activity: activity,
		Options:  config.NewOptions(s.Listeners),
		Logger:   logging.Module(logger, "shop"),
	}
	// A nil *Notifier must not become a non-nil interface.
	if notifier != nil {
		deps.Outbound = notifier
	}

	if err := shop.RegisterListeners(reg, pub, deps); err != nil {
		return Listeners{}, err
	}
	reg.Seal()
	return Listeners{Kinds: len(reg.Kinds()), Total: reg.Len()}, nil
}

// ProvideAPI builds the HTTP handler.
func ProvideAPI(
	orders *shop.OrderService,
	users *shop.UserService,
	activity *shop.ActivityLog,
	p *pool.Pool,
	s *config.Settings,
	tel *Telemetry,
	logger *slog.Logger,
) *api.Server {
	return api.New(orders, users, activity, p, api.Config{
		AllowedOrigins: s.HTTP.AllowedOrigins,
		Metrics:        tel.Handler,
	}, logger)
}

// ProvideHTTPServer creates the (not yet listening) HTTP server.
func ProvideHTTPServer(s *config.Settings, handler *api.Server) *http.Server {
	return &http.Server{
		Addr:              s.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: s.HTTP.ReadTimeout,
	}
}
