// Package logging builds the process-wide slog logger from configuration.
//
// Output goes to stdout, stderr or a rotating file managed by lumberjack.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the logger.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// Format is text or json.
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output"`

	// AddSource includes file:line in each record.
	AddSource bool `yaml:"add_source" split_words:"true"`

	// Rotation settings, used only for file output.
	MaxSizeMB  int  `yaml:"max_size_mb" split_words:"true" validate:"gte=0"`
	MaxBackups int  `yaml:"max_backups" split_words:"true" validate:"gte=0"`
	MaxAgeDays int  `yaml:"max_age_days" split_words:"true" validate:"gte=0"`
	Compress   bool `yaml:"compress"`
}

// DefaultConfig logs text at info level to stdout.
var DefaultConfig = Config{
	Level:      "info",
	Format:     "text",
	Output:     "stdout",
	MaxSizeMB:  100,
	MaxBackups: 3,
	MaxAgeDays: 28,
}

// New builds a logger. The returned closer releases the output file, if any.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	switch strings.ToLower(cfg.Format) {
	case "", "text", "json":
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	w, closer := writer(cfg)
	return NewWithWriter(cfg, w), closer, nil
}

// NewWithWriter builds a logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", "eventfan"),
	}))
}

func writer(cfg Config) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}
	case "stderr":
		return os.Stderr, nopCloser{}
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		return lj, lj
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Module returns a logger tagged with a module name.
func Module(logger *slog.Logger, module string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("module", module))
}

// Describe summarizes where logs go, for startup banners.
func Describe(cfg Config) string {
	out := cfg.Output
	if out == "" {
		out = "stdout"
	}
	return fmt.Sprintf("level=%s format=%s output=%s", ParseLevel(cfg.Level), orDefault(cfg.Format, "text"), out)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
