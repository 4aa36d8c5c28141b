package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const minSecretLength = 16

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSharedSecret validates the gateway shared secret
func (v *Validator) ValidateSharedSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("shared secret cannot be empty")
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("shared secret too short (min %d characters)", minSecretLength)
	}
	return nil
}

// ValidateTimeoutMs validates a processor wait in milliseconds. Zero or
// less means "do not wait" and is allowed.
func (v *Validator) ValidateTimeoutMs(name string, ms int) error {
	if ms > 24*60*60*1000 {
		return fmt.Errorf("%s too large (max 1 day), got %dms", name, ms)
	}
	return nil
}

// ValidateSpoolDir checks that the spool directory is usable and does not
// collide with its own archive folders
func (v *Validator) ValidateSpoolDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("spool dir cannot be empty")
	}
	info, err := os.Stat(dir)
	if err == nil && !info.IsDir() {
		return fmt.Errorf("spool dir %s is not a directory", dir)
	}
	if base := filepath.Base(filepath.Clean(dir)); base == "done" || base == "failed" {
		return fmt.Errorf("spool dir cannot be named %q", base)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size must be >= 0"))
	}

	if err := v.ValidateTimeoutMs("processor.start_timeout_ms", cfg.Processor.StartTimeoutMs); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTimeoutMs("processor.stop_timeout_ms", cfg.Processor.StopTimeoutMs); err != nil {
		errors = append(errors, err)
	}

	if cfg.Gateway.Enabled {
		if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
			errors = append(errors, fmt.Errorf("gateway: %w", err))
		}
		if err := v.ValidateSharedSecret(cfg.Gateway.SharedSecret); err != nil {
			errors = append(errors, fmt.Errorf("gateway: %w", err))
		}
		if cfg.Gateway.TickIntervalSec < 0 {
			errors = append(errors, fmt.Errorf("gateway.tick_interval_sec must be >= 0"))
		}
	}

	if cfg.Spool.Enabled {
		if err := v.ValidateSpoolDir(cfg.Spool.Dir); err != nil {
			errors = append(errors, err)
		}
		if cfg.Spool.StabilityMs < 0 {
			errors = append(errors, fmt.Errorf("spool.stability_ms must be >= 0"))
		}
	}

	for i, entry := range cfg.Schedules {
		if err := entry.Validate(); err != nil {
			errors = append(errors, fmt.Errorf("schedule %d: %w", i, err))
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	if cfg.Hooks.Backlog < 0 {
		errors = append(errors, fmt.Errorf("hooks.backlog must be >= 0"))
	}
	for i, hook := range cfg.Hooks.Hooks {
		if !hook.Enabled {
			continue
		}
		if err := hook.Validate(); err != nil {
			errors = append(errors, fmt.Errorf("hook %d: %w", i, err))
		}
	}

	return errors
}
