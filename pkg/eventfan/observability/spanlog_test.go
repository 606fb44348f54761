package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracerProvider_LogsSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tp := NewTracerProvider(logger)
	defer tp.Shutdown(context.Background())

	tr := tp.Tracer("test")
	ctx, parent := tr.Start(context.Background(), "eventfan.publish",
		trace.WithAttributes(attribute.String("event.kind", "order.created")))
	_, child := tr.Start(ctx, "eventfan.listener")
	child.RecordError(errors.New("boom"))
	child.End()
	parent.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "span finished", first["msg"])
	assert.Equal(t, "eventfan.listener", first["span"])
	assert.Equal(t, "tracing", first["component"])
	assert.NotEmpty(t, first["parent_id"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "eventfan.publish", second["span"])
	assert.NotContains(t, second, "parent_id")
	assert.Equal(t, "order.created", second["event.kind"])
	assert.Equal(t, first["trace_id"], second["trace_id"])
}

func TestLogSpanExporter_NilLogger(t *testing.T) {
	e := NewLogSpanExporter(nil)
	assert.NoError(t, e.ExportSpans(context.Background(), nil))
	assert.NoError(t, e.Shutdown(context.Background()))
}
