package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smxpscan/internal/config"
)

func decodeLastLine(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	previous := slog.Default()
	defer func() {
		ResetLoggerForTesting()
		slog.SetDefault(previous)
	}()

	logFile := filepath.Join(t.TempDir(), "nested", "pscan.log")
	cfg := config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	logger, err := InitializeLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Same(t, logger, GetLogger())

	again, err := InitializeLogger(config.LoggingConfig{Level: "debug", Output: "console"})
	require.NoError(t, err)
	assert.Same(t, logger, again)

	logger.Info("scan loaded", "file", "pscan_a.txt")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	entry := decodeLastLine(t, content)
	assert.Equal(t, "scan loaded", entry["msg"])
	assert.Equal(t, "pscan_a.txt", entry["file"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestRunIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LoggingConfig{Level: "debug", Format: "json"})

	ctx := WithRunID(context.Background(), "run-123")
	logger.InfoContext(ctx, "fit finished")

	entry := decodeLastLine(t, buf.Bytes())
	assert.Equal(t, "run-123", entry["run_id"])

	buf.Reset()
	logger.InfoContext(context.Background(), "no run")
	entry = decodeLastLine(t, buf.Bytes())
	_, present := entry["run_id"]
	assert.False(t, present)
}

func TestNewLoggerWithWriter_TextFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Warn("shown", "channel", 5)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "channel=5")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background())
	id := GetRunID(ctx)
	assert.Len(t, id, 36)

	assert.Equal(t, id, GetRunID(EnsureRunID(ctx)))
	assert.NotEmpty(t, GetRunID(EnsureRunID(context.Background())))
	assert.NotEqual(t, GenerateRunID(), GenerateRunID())
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(NewLoggerWithWriter(&buf, config.LoggingConfig{Level: "info"}), "pscan")
	logger.Info("hello")

	entry := decodeLastLine(t, buf.Bytes())
	assert.Equal(t, "pscan", entry["component"])
}
