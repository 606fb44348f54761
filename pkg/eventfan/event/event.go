// Package event defines the immutable facts that flow through the dispatcher.
//
// An Event carries a kind tag, an opaque key/value payload and a creation
// timestamp, plus identity and correlation metadata for tracing event chains.
// Events are values: once constructed they are never modified. The payload is
// deep-copied on the way in and on the way out, nested maps and slices
// included, so listeners running on different goroutines cannot observe each
// other's writes. Pointers and other reference values are shared.
package event

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Kind tags what happened (e.g., "order.created").
type Kind string

// String returns the kind as a plain string.
func (k Kind) String() string {
	return string(k)
}

// Payload holds kind-specific attributes such as orderId or email.
type Payload map[string]any

// Event is an immutable record of something that happened.
type Event struct {
	id            string
	kind          Kind
	source        string
	correlationID string
	causationID   string
	timestamp     time.Time
	payload       Payload
}

// ID returns the unique event identifier.
func (e Event) ID() string {
	return e.id
}

// Kind returns the event kind.
func (e Event) Kind() Kind {
	return e.kind
}

// Source returns the component that produced the event.
func (e Event) Source() string {
	return e.source
}

// CorrelationID groups all events of one chain. The root event's
// correlation ID is its own ID.
func (e Event) CorrelationID() string {
	return e.correlationID
}

// CausationID returns the ID of the event that directly caused this one.
// Empty for root events.
func (e Event) CausationID() string {
	return e.causationID
}

// Timestamp returns when the event was created.
func (e Event) Timestamp() time.Time {
	return e.timestamp
}

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool {
	return e.id == "" && e.kind == ""
}

// Payload returns a deep copy of the event attributes.
func (e Event) Payload() Payload {
	return clonePayload(e.payload)
}

// Get returns the attribute value for key. Maps and slices are copies.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.payload[key]
	return cloneValue(v), ok
}

// Has returns true if the attribute exists.
func (e Event) Has(key string) bool {
	_, ok := e.payload[key]
	return ok
}

// String returns the string attribute for key, or defaultVal if missing or not a string.
func (e Event) String(key, defaultVal string) string {
	if s, ok := e.payload[key].(string); ok {
		return s
	}
	return defaultVal
}

// Int64 returns the integer attribute for key, or defaultVal if missing or not convertible.
//
// Accepts int, int32, int64 and float64 without a fractional part
// (the shape JSON decoding produces).
func (e Event) Int64(key string, defaultVal int64) int64 {
	switch v := e.payload[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
	}
	return defaultVal
}

// Float64 returns the numeric attribute for key, or defaultVal if missing or not numeric.
func (e Event) Float64(key string, defaultVal float64) float64 {
	switch v := e.payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultVal
}

// wireEvent is the serialized form used by outbound transports.
type wireEvent struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Source        string    `json:"source,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       Payload   `json:"payload,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		ID:            e.id,
		Kind:          e.kind,
		Source:        e.source,
		CorrelationID: e.correlationID,
		CausationID:   e.causationID,
		Timestamp:     e.timestamp,
		Payload:       e.payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		id:            w.ID,
		kind:          w.Kind,
		source:        w.Source,
		correlationID: w.CorrelationID,
		causationID:   w.CausationID,
		timestamp:     w.Timestamp,
		payload:       w.Payload,
	}
	return nil
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id            string
	source        string
	correlationID string
	causationID   string
	timestamp     time.Time
	clock         func() time.Time
}

// WithEventID sets a specific event ID (default: random UUID).
func WithEventID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithSource records which component produced the event.
func WithSource(source string) Option {
	return func(cfg *eventConfig) {
		cfg.source = source
	}
}

// WithCorrelationID sets the correlation ID (default: the event ID).
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTimestamp sets a fixed creation time. It takes precedence over WithClock.
func WithTimestamp(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// WithClock sets the time source used for the creation timestamp.
func WithClock(clock func() time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.clock = clock
	}
}

// New creates an event of the given kind. The payload is copied.
func New(kind Kind, payload Payload, opts ...Option) Event {
	cfg := &eventConfig{clock: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.id == "" {
		cfg.id = uuid.New().String()
	}
	if cfg.timestamp.IsZero() {
		cfg.timestamp = cfg.clock()
	}
	// Root of a chain correlates with itself
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return Event{
		id:            cfg.id,
		kind:          kind,
		source:        cfg.source,
		correlationID: cfg.correlationID,
		causationID:   cfg.causationID,
		timestamp:     cfg.timestamp,
		payload:       clonePayload(payload),
	}
}

// NewFromParent creates an event caused by parent. It inherits the parent's
// correlation ID and records the parent as its cause. opts may override both.
func NewFromParent(parent Event, kind Kind, payload Payload, opts ...Option) Event {
	parentOpts := []Option{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}
	return New(kind, payload, append(parentOpts, opts...)...)
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies maps and slices recursively. Other values are returned
// as is.
func cloneValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := range rv.Len() {
			out.Index(i).Set(cloneElem(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	default:
		return v
	}
}

func cloneElem(v reflect.Value, typ reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface && v.IsNil() {
		return reflect.Zero(typ)
	}
	c := reflect.ValueOf(cloneValue(v.Interface()))
	if !c.IsValid() {
		return reflect.Zero(typ)
	}
	return c.Convert(typ)
}
