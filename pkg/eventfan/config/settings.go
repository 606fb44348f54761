package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/eventfan/pkg/eventfan/dispatch"
	"github.com/randalmurphal/eventfan/pkg/eventfan/logging"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
)

// Settings is the complete process configuration.
type Settings struct {
	Pool     PoolSettings     `yaml:"pool"`
	Dispatch DispatchSettings `yaml:"dispatch"`
	Logging  logging.Config   `yaml:"logging"`
	Store    StoreSettings    `yaml:"store"`
	HTTP     HTTPSettings     `yaml:"http"`
	Outbound OutboundSettings `yaml:"outbound"`
	Metrics  MetricsSettings  `yaml:"metrics"`

	// Listeners holds per-listener knobs keyed by listener name,
	// e.g. listeners.email.delay. Read through ListenerOptions.
	Listeners map[string]any `yaml:"listeners" ignored:"true"`
}

// PoolSettings mirrors pool.Config.
type PoolSettings struct {
	CorePoolSize     int           `yaml:"core_pool_size" split_words:"true" validate:"gte=1"`
	MaxPoolSize      int           `yaml:"max_pool_size" split_words:"true" validate:"gtefield=CorePoolSize"`
	QueueCapacity    int           `yaml:"queue_capacity" split_words:"true" validate:"gte=1"`
	ThreadNamePrefix string        `yaml:"thread_name_prefix" split_words:"true"`
	AwaitTermination time.Duration `yaml:"await_termination" split_words:"true" validate:"gte=0"`
	KeepAlive        time.Duration `yaml:"keep_alive" split_words:"true" validate:"gte=0"`
	Policy           string        `yaml:"policy" validate:"omitempty,oneof=caller_runs abort block"`
}

// DispatchSettings mirrors dispatch.Config.
type DispatchSettings struct {
	MaxDepth int `yaml:"max_depth" split_words:"true" validate:"gte=1"`

	// ListenerTimeout bounds each listener invocation; zero disables.
	ListenerTimeout time.Duration `yaml:"listener_timeout" split_words:"true" validate:"gte=0"`
}

// StoreSettings selects the SQLite database.
type StoreSettings struct {
	// DSN is a file path or ":memory:".
	DSN string `yaml:"dsn" validate:"required"`
}

// HTTPSettings configures the API server.
type HTTPSettings struct {
	Addr            string        `yaml:"addr" validate:"required"`
	AllowedOrigins  []string      `yaml:"allowed_origins" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gte=0"`
}

// OutboundSettings configures external notification delivery.
type OutboundSettings struct {
	Enabled        bool          `yaml:"enabled"`
	Topic          string        `yaml:"topic" validate:"required_if=Enabled true"`
	MaxAttempts    int           `yaml:"max_attempts" split_words:"true" validate:"gte=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff" split_words:"true" validate:"gte=0"`
}

// MetricsSettings toggles telemetry.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
	Tracing bool `yaml:"tracing"`
}

// Defaults returns the built-in configuration.
func Defaults() *Settings {
	return &Settings{
		Pool: PoolSettings{
			CorePoolSize:     pool.DefaultConfig.CorePoolSize,
			MaxPoolSize:      pool.DefaultConfig.MaxPoolSize,
			QueueCapacity:    pool.DefaultConfig.QueueCapacity,
			ThreadNamePrefix: pool.DefaultConfig.ThreadNamePrefix,
			AwaitTermination: pool.DefaultConfig.AwaitTermination,
			KeepAlive:        pool.DefaultConfig.KeepAlive,
			Policy:           pool.DefaultConfig.Policy.String(),
		},
		Dispatch: DispatchSettings{
			MaxDepth: dispatch.DefaultConfig.MaxDepth,
		},
		Logging: logging.DefaultConfig,
		Store: StoreSettings{
			DSN: ":memory:",
		},
		HTTP: HTTPSettings{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Outbound: OutboundSettings{
			Enabled:        true,
			Topic:          "eventfan.external",
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
		},
		Metrics: MetricsSettings{
			Enabled: true,
		},
		Listeners: map[string]any{},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and reports all violations at once.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// PoolConfig maps the pool section onto pool.Config. Logger, Metrics and
// OnFailure are left for the caller.
func (s *Settings) PoolConfig() (pool.Config, error) {
	policy, err := pool.ParsePolicy(s.Pool.Policy)
	if err != nil {
		return pool.Config{}, err
	}
	return pool.Config{
		CorePoolSize:     s.Pool.CorePoolSize,
		MaxPoolSize:      s.Pool.MaxPoolSize,
		QueueCapacity:    s.Pool.QueueCapacity,
		ThreadNamePrefix: s.Pool.ThreadNamePrefix,
		AwaitTermination: s.Pool.AwaitTermination,
		KeepAlive:        s.Pool.KeepAlive,
		Policy:           policy,
	}, nil
}

// DispatchConfig maps the dispatch section onto dispatch.Config.
func (s *Settings) DispatchConfig() dispatch.Config {
	return dispatch.Config{MaxDepth: s.Dispatch.MaxDepth}
}

// ListenerOptions returns the knobs for one listener.
func (s *Settings) ListenerOptions(name string) Options {
	return NewOptions(s.Listeners).Section(name)
}
