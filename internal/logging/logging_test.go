package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"Info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatText, ParseFormat("text"))
	assert.Equal(t, FormatText, ParseFormat("yaml"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.LevelInfo, FormatJSON, &buf)

	logger.Debug("hidden")
	logger.Info("proxy added", "host", "app.local", "port", 3000)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "proxy added", entry["msg"])
	assert.Equal(t, "app.local", entry["host"])
	assert.Equal(t, float64(3000), entry["port"])
}

func TestFromStrings_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := FromStrings("debug", "text", &buf)
	logger.Debug("state", "to", "validating")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "to=validating")
}

func TestNew_LevelFiltersText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.LevelWarn, FormatText, &buf)

	logger.Info("skipped")
	logger.Warn("reload failed", "host", "app.local")
	assert.NotContains(t, buf.String(), "skipped")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "host=app.local")
	assert.NotContains(t, buf.String(), "source=")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Error("discarded", "error", "x")
	})
}
