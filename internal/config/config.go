package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/cmdq/pkg/hooks"
	"github.com/harun/cmdq/pkg/schedule"
)

// Config represents the main cmdq configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Processor behaviour
	Processor ProcessorConfig `json:"processor" mapstructure:"processor"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Spool directory ingestion
	Spool SpoolConfig `json:"spool" mapstructure:"spool"`

	// Recurring commands
	Schedules []schedule.Entry `json:"schedules" mapstructure:"schedules"`

	// Execution journal
	History HistoryConfig `json:"history" mapstructure:"history"`

	// OpenTelemetry
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Audit log
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Lifecycle hooks
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ProcessorConfig controls the queue processor
type ProcessorConfig struct {
	AutoStart      bool `json:"auto_start" mapstructure:"auto_start"`
	StartTimeoutMs int  `json:"start_timeout_ms" mapstructure:"start_timeout_ms"`
	StopTimeoutMs  int  `json:"stop_timeout_ms" mapstructure:"stop_timeout_ms"`
}

// StartTimeout returns the start wait as a duration
func (p ProcessorConfig) StartTimeout() time.Duration {
	return time.Duration(p.StartTimeoutMs) * time.Millisecond
}

// StopTimeout returns the stop wait as a duration
func (p ProcessorConfig) StopTimeout() time.Duration {
	return time.Duration(p.StopTimeoutMs) * time.Millisecond
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	Port              int    `json:"port" mapstructure:"port"`
	Host              string `json:"host" mapstructure:"host"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	TickIntervalSec   int    `json:"tick_interval_sec" mapstructure:"tick_interval_sec"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// Addr returns host:port for clients of the local gateway
func (g GatewayConfig) Addr() string {
	host := g.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, g.Port)
}

// SpoolConfig holds spool watcher configuration
type SpoolConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Dir         string `json:"dir" mapstructure:"dir"`
	StabilityMs int    `json:"stability_ms" mapstructure:"stability_ms"`
}

// HistoryConfig holds execution journal configuration
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	File string `json:"file" mapstructure:"file"`
}

// HooksConfig holds lifecycle hook configuration
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Backlog int          `json:"backlog" mapstructure:"backlog"`
	Hooks   []hooks.Hook `json:"hooks" mapstructure:"hooks"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Processor: ProcessorConfig{
			AutoStart:      true,
			StartTimeoutMs: 5000,
			StopTimeoutMs:  30000,
		},
		Gateway: GatewayConfig{
			Enabled:           true,
			Port:              7420,
			Host:              "127.0.0.1",
			TickIntervalSec:   30,
			RequestsPerMinute: 120,
			MaxConcurrent:     10,
		},
		Spool: SpoolConfig{
			Enabled:     true,
			StabilityMs: 200,
		},
		Schedules: []schedule.Entry{},
		History: HistoryConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "cmdq",
			SampleRatio: 1,
		},
		Hooks: HooksConfig{
			Enabled: false,
			Backlog: 64,
			Hooks:   []hooks.Hook{},
		},
	}
}

// ApplyPathDefaults fills every path left empty relative to DataDir
func (c *Config) ApplyPathDefaults() {
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "cmdq.log")
	}
	if c.Spool.Dir == "" {
		c.Spool.Dir = filepath.Join(c.DataDir, "spool")
	}
	if c.History.DBPath == "" {
		c.History.DBPath = filepath.Join(c.DataDir, "history.db")
	}
	if c.Audit.File == "" {
		c.Audit.File = filepath.Join(c.DataDir, "audit.log")
	}
}

// PIDFile returns the daemon PID file path
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "cmdq.pid")
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the settings the daemon cannot start without
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Gateway.Enabled {
		if c.Gateway.SharedSecret == "" {
			return fmt.Errorf("gateway.shared_secret is required when the gateway is enabled")
		}
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
		}
	}
	if c.Spool.Enabled && c.Spool.Dir == "" {
		return fmt.Errorf("spool.dir is required when the spool is enabled")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path is required when history is enabled")
	}

	names := make(map[string]bool, len(c.Schedules))
	for i, entry := range c.Schedules {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("schedule %d: %w", i, err)
		}
		if names[entry.Name] {
			return fmt.Errorf("schedule %s: duplicate name", entry.Name)
		}
		names[entry.Name] = true
	}

	if c.Hooks.Enabled {
		for i, hook := range c.Hooks.Hooks {
			if !hook.Enabled {
				continue
			}
			if err := hook.Validate(); err != nil {
				return fmt.Errorf("hook %d: %w", i, err)
			}
		}
	}

	return nil
}
