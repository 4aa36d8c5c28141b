package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		assert.Nil(t, logger.file)
		assert.NoError(t, logger.Close())
	})

	t.Run("writes to file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "cmdq.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		processorLog := logger.Component("processor")
		processorLog.Info().Str("state", "RUNNING").Msg("Processor state changed")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"processor"`)
		assert.Contains(t, string(data), "Processor state changed")
	})

	t.Run("masks configured secrets", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "cmdq.log")

		logger, err := New(Config{
			Level:     "info",
			File:      logFile,
			Redaction: true,
			Secrets:   []string{"hunter2-hunter2-hunter2"},
		})
		require.NoError(t, err)
		require.NotNil(t, logger.redactor)

		logger.Info().Str("presented", "hunter2-hunter2-hunter2").Msg("auth")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hunter2")
		assert.Contains(t, string(data), redacted)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})
}

func TestLoggerLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cmdq.log")

	logger, err := New(Config{Level: "warn", File: logFile})
	require.NoError(t, err)

	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "debug message")
	assert.NotContains(t, string(data), "info message")
	assert.Contains(t, string(data), "warn message")
	assert.Contains(t, string(data), "error message")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
