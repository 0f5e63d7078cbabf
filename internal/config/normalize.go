package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.normalizeStore()
	c.normalizeProcessing()
	c.normalizeNotifications()
	c.normalizeLogging()
	if c.Webhook.RequestTimeout <= 0 {
		c.Webhook.RequestTimeout = defaultWebhookTimeout
	}
	c.Cleanup.Schedule = strings.TrimSpace(c.Cleanup.Schedule)
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = defaultCleanupSchedule
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("WAVEQ_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = strings.TrimSpace(value)
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	origins := c.Paths.CORSOrigins[:0]
	for _, origin := range c.Paths.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Paths.CORSOrigins = origins
	return nil
}

func (c *Config) normalizeJobs() {
	if c.Jobs.SoftTimeout <= 0 {
		c.Jobs.SoftTimeout = softTimeoutFor(c.Jobs.JobTimeout)
	}
	if c.Jobs.RetentionHours < 0 {
		c.Jobs.RetentionHours = 0
	}
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if value, ok := os.LookupEnv("WAVEQ_STORE_DSN"); ok && strings.TrimSpace(value) != "" {
		c.Store.DSN = strings.TrimSpace(value)
	} else if c.Store.DSN == "" {
		if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.Backend == "sqlite" && c.Store.DSN == "" && c.Paths.DataDir != "" {
		c.Store.DSN = filepath.Join(c.Paths.DataDir, "waveq.db")
	}
}

// softTimeoutFor leaves processing functions a margin to stop before the
// hard deadline marks the job failed. Short timeouts get no margin.
func softTimeoutFor(jobTimeout int) int {
	if jobTimeout > 2*defaultSoftTimeoutMargin {
		return jobTimeout - defaultSoftTimeoutMargin
	}
	return jobTimeout
}

func (c *Config) normalizeProcessing() {
	cmds := &c.Processing.Commands
	for _, field := range []*string{&cmds.Denoise, &cmds.Transcribe, &cmds.Trim, &cmds.Separate, &cmds.Sentiment, &cmds.TTS} {
		*field = strings.TrimSpace(*field)
	}
	c.Processing.WhisperModel = strings.ToLower(strings.TrimSpace(c.Processing.WhisperModel))
	if c.Processing.WhisperModel == "" {
		c.Processing.WhisperModel = defaultWhisperModel
	}
	c.Processing.WhisperDevice = strings.ToLower(strings.TrimSpace(c.Processing.WhisperDevice))
	if c.Processing.WhisperDevice == "" {
		c.Processing.WhisperDevice = defaultWhisperDevice
	}
	c.Processing.DemucsModel = strings.TrimSpace(c.Processing.DemucsModel)
	if c.Processing.DemucsModel == "" {
		c.Processing.DemucsModel = defaultDemucsModel
	}
	c.Processing.DemucsDevice = strings.ToLower(strings.TrimSpace(c.Processing.DemucsDevice))
	if c.Processing.DemucsDevice == "" {
		c.Processing.DemucsDevice = defaultDemucsDevice
	}
	c.Processing.FFprobeBinary = strings.TrimSpace(c.Processing.FFprobeBinary)
	if c.Processing.FFprobeBinary == "" {
		c.Processing.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("WAVEQ_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
