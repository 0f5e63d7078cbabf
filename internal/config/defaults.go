package config

const (
	defaultConfigPath             = "~/.config/waveq/config.toml"
	defaultDataDir                = "~/.local/share/waveq"
	defaultUploadDir              = "~/.local/share/waveq/uploads"
	defaultOutputDir              = "~/.local/share/waveq/outputs"
	defaultLogDir                 = "~/.local/share/waveq/logs"
	defaultAPIBind                = "127.0.0.1:8000"
	defaultMaxConcurrentJobs      = 5
	defaultJobTimeout             = 600
	defaultSoftTimeoutMargin      = 60
	defaultJobRetentionHours      = 24
	defaultWebhookTimeout         = 10
	defaultNotifyRequestTimeout   = 10
	defaultStoreBackend           = "memory"
	defaultWhisperModel           = "base"
	defaultWhisperDevice          = "cpu"
	defaultDemucsModel            = "htdemucs"
	defaultDemucsDevice           = "cpu"
	defaultFFprobeBinary          = "ffprobe"
	defaultCleanupSchedule        = "@hourly"
	defaultCleanupMaxFileAgeHours = 24
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			UploadDir: defaultUploadDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Jobs: Jobs{
			MaxConcurrentJobs: defaultMaxConcurrentJobs,
			JobTimeout:        defaultJobTimeout,
			RetentionHours:    defaultJobRetentionHours,
		},
		Webhook: Webhook{
			RequestTimeout: defaultWebhookTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobFailures:    true,
			Workflows:      true,
		},
		Store: Store{
			Backend: defaultStoreBackend,
		},
		Processing: Processing{
			WhisperModel:  defaultWhisperModel,
			WhisperDevice: defaultWhisperDevice,
			DemucsModel:   defaultDemucsModel,
			DemucsDevice:  defaultDemucsDevice,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Cleanup: Cleanup{
			Enabled:         true,
			Schedule:        defaultCleanupSchedule,
			MaxFileAgeHours: defaultCleanupMaxFileAgeHours,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
