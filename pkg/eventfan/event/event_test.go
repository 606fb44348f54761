package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
)

func TestNew(t *testing.T) {
	before := time.Now()
	evt := event.New(event.OrderCreated, event.Payload{
		event.KeyOrderID: int64(42),
		event.KeyUserID:  int64(7),
		event.KeyAmount:  99.99,
	}, event.WithSource("orders"))

	assert.NotEmpty(t, evt.ID())
	assert.Equal(t, event.OrderCreated, evt.Kind())
	assert.Equal(t, "orders", evt.Source())
	assert.Equal(t, evt.ID(), evt.CorrelationID(), "root event correlates with itself")
	assert.Empty(t, evt.CausationID())
	assert.False(t, evt.Timestamp().Before(before))
	assert.False(t, evt.IsZero())

	assert.Equal(t, int64(42), evt.Int64(event.KeyOrderID, 0))
	assert.Equal(t, 99.99, evt.Float64(event.KeyAmount, 0))
	assert.Equal(t, "fallback", evt.String(event.KeyEmail, "fallback"))
}

func TestNewCopiesPayload(t *testing.T) {
	payload := event.Payload{"k": "v"}
	evt := event.New("test.kind", payload)

	payload["k"] = "mutated"
	assert.Equal(t, "v", evt.String("k", ""))

	out := evt.Payload()
	out["k"] = "also mutated"
	assert.Equal(t, "v", evt.String("k", ""))
}

func TestNestedPayloadIsCopied(t *testing.T) {
	items := []string{"book"}
	meta := map[string]any{"k": "v", "tags": []any{"a", nil}}
	evt := event.New("test.kind", event.Payload{"items": items, "meta": meta})

	items[0] = "mutated"
	meta["k"] = "mutated"

	got, ok := evt.Get("items")
	require.True(t, ok)
	got.([]string)[0] = "mutated"

	evt.Payload()["meta"].(map[string]any)["k"] = "mutated"
	evt.Payload()["meta"].(map[string]any)["tags"].([]any)[0] = "mutated"

	assert.Equal(t, event.Payload{
		"items": []string{"book"},
		"meta":  map[string]any{"k": "v", "tags": []any{"a", nil}},
	}, evt.Payload())
}

func TestNewOptions(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("fixed timestamp", func(t *testing.T) {
		evt := event.New("k", nil, event.WithTimestamp(ts), event.WithEventID("evt-1"))
		assert.Equal(t, ts, evt.Timestamp())
		assert.Equal(t, "evt-1", evt.ID())
		assert.Equal(t, "evt-1", evt.CorrelationID())
	})

	t.Run("clock", func(t *testing.T) {
		evt := event.New("k", nil, event.WithClock(func() time.Time { return ts }))
		assert.Equal(t, ts, evt.Timestamp())
	})

	t.Run("timestamp wins over clock", func(t *testing.T) {
		other := ts.Add(time.Hour)
		evt := event.New("k", nil,
			event.WithClock(func() time.Time { return other }),
			event.WithTimestamp(ts),
		)
		assert.Equal(t, ts, evt.Timestamp())
	})
}

func TestNewFromParent(t *testing.T) {
	root := event.New(event.UserRegistered, event.Payload{event.KeyUserID: int64(1)})
	child := event.NewFromParent(root, event.UserProfileCreation, nil)
	grandchild := event.NewFromParent(child, event.ExternalSystemNotification, nil)

	assert.Equal(t, root.ID(), child.CorrelationID())
	assert.Equal(t, root.ID(), child.CausationID())
	assert.Equal(t, root.ID(), grandchild.CorrelationID())
	assert.Equal(t, child.ID(), grandchild.CausationID())
	assert.NotEqual(t, root.ID(), child.ID())
}

func TestTypedAccessors(t *testing.T) {
	evt := event.New("k", event.Payload{
		"int":      7,
		"float":    3.0,
		"fraction": 3.5,
		"string":   "s",
	})

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"int as int64", evt.Int64("int", -1), int64(7)},
		{"whole float as int64", evt.Int64("float", -1), int64(3)},
		{"fractional float rejected", evt.Int64("fraction", -1), int64(-1)},
		{"string rejected as int64", evt.Int64("string", -1), int64(-1)},
		{"int as float64", evt.Float64("int", -1), 7.0},
		{"missing float64", evt.Float64("missing", -1), -1.0},
		{"string", evt.String("string", ""), "s"},
		{"non-string", evt.String("int", "d"), "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}

	_, ok := evt.Get("missing")
	assert.False(t, ok)
	assert.True(t, evt.Has("int"))
}

func TestJSONRoundTrip(t *testing.T) {
	parent := event.New(event.OrderCreated, nil)
	evt := event.NewFromParent(parent, event.OrderShipped, event.Payload{
		event.KeyOrderID:        int64(42),
		event.KeyTrackingNumber: "TRK-1",
	}, event.WithSource("orders"))

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded event.Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, evt.ID(), decoded.ID())
	assert.Equal(t, evt.Kind(), decoded.Kind())
	assert.Equal(t, evt.CausationID(), decoded.CausationID())
	assert.True(t, evt.Timestamp().Equal(decoded.Timestamp()))
	// JSON numbers decode as float64; typed accessors absorb that.
	assert.Equal(t, int64(42), decoded.Int64(event.KeyOrderID, 0))
	assert.Equal(t, "TRK-1", decoded.String(event.KeyTrackingNumber, ""))
}

func TestKinds(t *testing.T) {
	kinds := event.Kinds()
	assert.Len(t, kinds, 6)
	assert.Contains(t, kinds, event.ExternalSystemNotification)
	assert.Equal(t, "order.created", event.OrderCreated.String())
}
