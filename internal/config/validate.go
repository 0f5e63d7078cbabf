package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Webhook.RequestTimeout <= 0 {
		return errors.New("webhook.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.MaxConcurrentJobs <= 0 {
		return errors.New("jobs.max_concurrent_jobs must be positive")
	}
	if c.Jobs.JobTimeout <= 0 {
		return errors.New("jobs.job_timeout must be positive")
	}
	if c.Jobs.SoftTimeout <= 0 {
		return errors.New("jobs.soft_timeout must be positive")
	}
	if c.Jobs.SoftTimeout > c.Jobs.JobTimeout {
		return fmt.Errorf("jobs.soft_timeout (%d) must not exceed jobs.job_timeout (%d)", c.Jobs.SoftTimeout, c.Jobs.JobTimeout)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "memory":
		return nil
	case "sqlite":
		if c.Store.DSN == "" && strings.TrimSpace(c.Paths.DataDir) == "" {
			return errors.New("store.dsn or paths.data_dir must be set for the sqlite backend")
		}
		return nil
	case "postgres", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the %s backend (or set WAVEQ_STORE_DSN)", c.Store.Backend)
		}
		return nil
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want memory, sqlite, postgres, or mysql)", c.Store.Backend)
	}
}

func (c *Config) validateProcessing() error {
	switch c.Processing.WhisperModel {
	case "tiny", "base", "small", "medium", "large":
	default:
		return fmt.Errorf("processing.whisper_model: unsupported value %q", c.Processing.WhisperModel)
	}
	for name, device := range map[string]string{
		"processing.whisper_device": c.Processing.WhisperDevice,
		"processing.demucs_device":  c.Processing.DemucsDevice,
	} {
		if device != "cpu" && device != "cuda" {
			return fmt.Errorf("%s must be cpu or cuda, got %q", name, device)
		}
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if !c.Cleanup.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Cleanup.Schedule); err != nil {
		return fmt.Errorf("cleanup.schedule: %w", err)
	}
	if c.Cleanup.MaxFileAgeHours < 0 {
		return errors.New("cleanup.max_file_age_hours must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
