package config

import (
	"strconv"
	"time"
)

// Options holds free-form per-listener knobs (the "listeners" section of the
// config file) with typed accessors. Every accessor returns the default when
// the key is missing or holds a value of the wrong shape.
type Options struct {
	data map[string]any
}

// NewOptions wraps data. A nil map yields empty Options.
func NewOptions(data map[string]any) Options {
	if data == nil {
		data = make(map[string]any)
	}
	return Options{data: data}
}

// Section returns the nested map under key, empty if missing.
func (o Options) Section(key string) Options {
	if m, ok := o.data[key].(map[string]any); ok {
		return NewOptions(m)
	}
	return NewOptions(nil)
}

// String returns the string under key.
func (o Options) String(key, defaultVal string) string {
	if s, ok := o.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration under key.
//
// Strings are parsed with time.ParseDuration ("500ms"); bare numbers are
// milliseconds, matching how listener delays are usually written.
func (o Options) Duration(key string, defaultVal time.Duration) time.Duration {
	switch v := o.data[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return defaultVal
}

// Int returns the integer under key. Floats are accepted only when whole.
func (o Options) Int(key string, defaultVal int) int {
	switch v := o.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return defaultVal
}

// Bool returns the boolean under key.
func (o Options) Bool(key string, defaultVal bool) bool {
	if b, ok := o.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o.data[key]
	return ok
}

// Raw returns the underlying map. Callers must not modify it.
func (o Options) Raw() map[string]any {
	return o.data
}
