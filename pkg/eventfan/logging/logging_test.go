package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	Module(logger, "dispatch").Debug("hello", slog.Int("n", 1))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "eventfan", entry["service"])
	assert.Equal(t, "dispatch", entry["module"])
	assert.EqualValues(t, 1, entry["n"])
}

func TestNewWithWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "warn"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "level=WARN", "text format by default")
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventfan.log")

	logger, closer, err := New(Config{Level: "info", Format: "json", Output: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"to file"`))
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNewStdout(t *testing.T) {
	logger, closer, err := New(DefaultConfig)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "level=INFO format=text output=stdout", Describe(Config{}))
	assert.Equal(t, "level=DEBUG format=json output=/tmp/x.log", Describe(Config{Level: "debug", Format: "json", Output: "/tmp/x.log"}))
}
