package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ahrdadan/shoprobot/internal/config"
)

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "robot"}, zapcore.AddSync(&buf))

	logger.Debug("Stage", zap.String("stage", "navigate"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "robot.")
	assert.Contains(t, out, "Stage")
	assert.Contains(t, out, "navigate")
}

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "shown", entry["msg"])
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "chatty", Format: "json"}, zapcore.AddSync(&buf))

	logger.Debug("dropped")
	logger.Info("kept")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.log")
	var console bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "info", Format: "console", File: path, MaxSize: 1}, zapcore.AddSync(&console))

	logger.Info("to both")
	Sync(logger)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, console.String(), "to both")
}
