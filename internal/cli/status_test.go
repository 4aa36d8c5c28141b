package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := executeCommand(t, "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "processor")
	})

	t.Run("stopped without pid file", func(t *testing.T) {
		env := newCLIEnv(t, 0)

		out, err := executeCommand(t, "--config", env.configPath, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})

	t.Run("running reports processor and observers", func(t *testing.T) {
		env := newCLIEnv(t, 0)
		pidFile := filepath.Join(filepath.Dir(env.configPath), "cmdq.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))

		out, err := executeCommand(t, "--config", env.configPath, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "Processor: WAITING_START")
		assert.Contains(t, out, "Queued: 0")
		assert.Contains(t, out, "Observers: 0")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
