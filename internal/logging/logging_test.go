package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevelAndJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "WARN", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden", "低于配置级别的日志应被过滤")
	require.Contains(t, out, `"component":"test"`)
	require.Contains(t, out, `"message":"shown"`)
}

func TestNewLoggerInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "loud"}, &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")
	require.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "info", File: FileConfig{Path: path, MaxSizeMB: 1}}, &buf)

	logger.Info().Msg("to both")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "to both")
	require.Contains(t, buf.String(), "to both")
}
