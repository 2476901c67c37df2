package config

import (
	"fmt"
	"time"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks a Config for values that would misbehave at runtime.
func Validate(cfg *Config) error {
	if !validLogLevels[cfg.Logging.LogLevel] {
		return fmt.Errorf("invalid log_level %q (debug, info, warn, error)", cfg.Logging.LogLevel)
	}

	if !validLogFormats[cfg.Logging.LogFormat] {
		return fmt.Errorf("invalid log_format %q (text, json)", cfg.Logging.LogFormat)
	}

	if cfg.Logging.LogRetentionDays < 0 {
		return fmt.Errorf("log_retention_days must not be negative, got %d", cfg.Logging.LogRetentionDays)
	}

	if cfg.Transcode.Workers < 0 {
		return fmt.Errorf("transcode workers must not be negative, got %d", cfg.Transcode.Workers)
	}

	if _, err := cfg.TranscodeTimeout(); err != nil {
		return fmt.Errorf("invalid transcode timeout: %w", err)
	}

	if _, err := cfg.ProbeInterval(); err != nil {
		return fmt.Errorf("invalid probe_interval: %w", err)
	}

	if cfg.Storage.StateDB == "" {
		return fmt.Errorf("storage state_db must not be empty")
	}

	return nil
}

// TranscodeTimeout parses the configured per-job transcode timeout.
func (c *Config) TranscodeTimeout() (time.Duration, error) {
	return parseDuration(c.Transcode.Timeout, defaultTranscodeTimeout)
}

// ProbeInterval parses the configured connection-monitor probe interval.
func (c *Config) ProbeInterval() (time.Duration, error) {
	return parseDuration(c.Sync.ProbeInterval, defaultProbeInterval)
}

func parseDuration(s, fallback string) (time.Duration, error) {
	if s == "" {
		s = fallback
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}

	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", d)
	}

	return d, nil
}
