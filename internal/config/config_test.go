package config

import (
	"encoding/json"
	"testing"

	"github.com/harun/cmdq/pkg/commands"
	"github.com/harun/cmdq/pkg/hooks"
	"github.com/harun/cmdq/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/cmdq"
	cfg.Gateway.SharedSecret = "0123456789abcdef0123"
	cfg.ApplyPathDefaults()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Processor.AutoStart)
	assert.Equal(t, 5000, cfg.Processor.StartTimeoutMs)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 7420, cfg.Gateway.Port)
	assert.Empty(t, cfg.Gateway.SharedSecret)
	assert.True(t, cfg.Spool.Enabled)
	assert.True(t, cfg.History.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.NotNil(t, cfg.Schedules)
}

func TestConfig_ApplyPathDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.Spool.Dir = "/custom/spool"
	cfg.ApplyPathDefaults()

	assert.Equal(t, "/data/cmdq.log", cfg.Logging.File)
	assert.Equal(t, "/custom/spool", cfg.Spool.Dir)
	assert.Equal(t, "/data/history.db", cfg.History.DBPath)
	assert.Equal(t, "/data/audit.log", cfg.Audit.File)
	assert.Equal(t, "/data/cmdq.pid", cfg.PIDFile())
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing data dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.DataDir = ""
		assert.ErrorContains(t, cfg.Validate(), "data_dir")
	})

	t.Run("gateway without secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.SharedSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "shared_secret")
	})

	t.Run("disabled gateway needs no secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.Enabled = false
		cfg.Gateway.SharedSecret = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.Port = 70000
		assert.ErrorContains(t, cfg.Validate(), "port")
	})

	t.Run("bad schedule", func(t *testing.T) {
		cfg := validConfig()
		cfg.Schedules = []schedule.Entry{{Name: "x", Expr: "nope", Command: commands.Spec{Kind: commands.KindWait, Duration: "1s"}}}
		assert.ErrorContains(t, cfg.Validate(), "schedule 0")
	})

	t.Run("duplicate schedule names", func(t *testing.T) {
		cfg := validConfig()
		entry := schedule.Entry{Name: "x", Expr: "@hourly", Command: commands.Spec{Kind: commands.KindWait, Duration: "1s"}}
		cfg.Schedules = []schedule.Entry{entry, entry}
		assert.ErrorContains(t, cfg.Validate(), "duplicate")
	})

	t.Run("unknown hook event", func(t *testing.T) {
		cfg := validConfig()
		cfg.Hooks.Enabled = true
		cfg.Hooks.Hooks = []hooks.Hook{{Event: "queue:exploded", Script: "true", Enabled: true}}
		assert.ErrorContains(t, cfg.Validate(), "hook 0")
	})

	t.Run("hooks ignored while disabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Hooks.Hooks = []hooks.Hook{{Event: "queue:exploded", Script: "true", Enabled: true}}
		assert.NoError(t, cfg.Validate())
	})
}

func TestGatewayConfig_Addr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:7420", GatewayConfig{Host: "0.0.0.0", Port: 7420}.Addr())
	assert.Equal(t, "10.1.1.1:80", GatewayConfig{Host: "10.1.1.1", Port: 80}.Addr())
}

func TestConfig_String(t *testing.T) {
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(validConfig().String()), &decoded))
	assert.Contains(t, decoded, "gateway")
	assert.Contains(t, decoded, "schedules")
}
