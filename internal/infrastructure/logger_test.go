package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notiflogger/internal/config"
)

func decodeLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Output: "console"}, &buf)
	require.NoError(t, err)

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.DebugContext(ctx, "hello", slog.String("component", "test"))

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0]["msg"])
	assert.Equal(t, "DEBUG", entries[0]["level"])
	assert.Equal(t, "trace-123", entries[0]["trace_id"])
	assert.Equal(t, "test", entries[0]["component"])
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
}

func TestNewLoggerBoth(t *testing.T) {
	t.Cleanup(func() { _ = CloseLogFile() })
	path := filepath.Join(t.TempDir(), "logs", "activation.log")

	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Output: "both", FilePath: path}, &buf)
	require.NoError(t, err)

	logger.Info("written twice")
	require.NoError(t, CloseLogFile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written twice")
	assert.Contains(t, buf.String(), "written twice")
}

func TestNewLoggerFileOnly(t *testing.T) {
	t.Cleanup(func() { _ = CloseLogFile() })
	path := filepath.Join(t.TempDir(), "activation.log")

	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Output: "file", FilePath: path}, &buf)
	require.NoError(t, err)

	logger.Info("file only")
	assert.Empty(t, buf.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file only")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func TestGetLoggerFallsBackToDefault(t *testing.T) {
	ResetLoggerForTesting()
	t.Cleanup(ResetLoggerForTesting)

	assert.Same(t, slog.Default(), GetLogger())
}

func TestTraceIDHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = EnsureTraceID(ctx)
	first := GetTraceID(ctx)
	assert.Len(t, first, 36)

	ctx = EnsureTraceID(ctx)
	assert.Equal(t, first, GetTraceID(ctx))
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(slog.New(slog.NewJSONHandler(&buf, nil)), "engine")
	logger.Info("tick")

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0]["component"])
}
