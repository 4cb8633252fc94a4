// internal/observability/logger_test.go
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

	"github.com/xkilldash9x/ouroboros/internal/config"
)

// syncBuffer adapts a bytes.Buffer into a zapcore.WriteSyncer so tests can
// inspect console output without touching os.Stdout.
type syncBuffer struct {
	bytes.Buffer
}

func (s *syncBuffer) Sync() error { return nil }

func TestInitialize(t *testing.T) {

	t.Run("console core writes level and message", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		cfg := config.LoggingConfig{Level: "debug", Console: true}
		Initialize(cfg, &buf)
		GetLogger().Info("engine starting")
		Sync()

		out := buf.String()
		assert.Contains(t, out, "INFO", "output should contain the log level")
		assert.Contains(t, out, "engine starting", "output should contain the message")
		assert.Contains(t, out, "ouroboros.", "output should carry the logger name")
	})

	t.Run("file sink produces structured JSON", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer
		logFile := filepath.Join(t.TempDir(), "engine.log")

		cfg := config.LoggingConfig{
			Level:     "debug",
			Console:   false,
			File:      logFile,
			MaxSizeMB: 1,
		}
		Initialize(cfg, &buf)
		GetLogger().Warn("cycle degraded", zap.String("token", "no_problems"))
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(content, &entry), "log file line should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "ouroboros", entry["logger"])
		assert.Equal(t, "cycle degraded", entry["msg"])
		assert.Equal(t, "no_problems", entry["token"])
	})

	t.Run("initialization happens exactly once", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		Initialize(config.LoggingConfig{Level: "info", Console: true}, &buf)
		first := GetLogger()

		var second syncBuffer
		Initialize(config.LoggingConfig{Level: "debug", Console: true}, &second)

		assert.Equal(t, first, GetLogger(), "second Initialize must be a no-op")
		GetLogger().Info("still the first sink")
		Sync()
		assert.True(t, strings.Contains(buf.String(), "still the first sink"))
		assert.Empty(t, second.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
	})

	t.Run("returns the stored instance after initialization", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer
		Initialize(config.LoggingConfig{Level: "info", Console: true}, &buf)

		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}
