package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string   `toml:"data_dir"`
	UploadDir   string   `toml:"upload_dir"`
	OutputDir   string   `toml:"output_dir"`
	LogDir      string   `toml:"log_dir"`
	APIBind     string   `toml:"api_bind"`
	APIToken    string   `toml:"api_token"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Jobs controls the dispatcher worker pool and per-job deadlines.
type Jobs struct {
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	// JobTimeout is the hard deadline in seconds after which a job is forced to failed.
	JobTimeout int `toml:"job_timeout"`
	// SoftTimeout is handed to processing functions as their context deadline.
	SoftTimeout    int `toml:"soft_timeout"`
	RetentionHours int `toml:"retention_hours"`
}

// Workflow contains executor behaviour.
type Workflow struct {
	ParallelDispatch bool `toml:"parallel_dispatch"`
}

// Webhook contains completion callback settings.
type Webhook struct {
	RequestTimeout int `toml:"request_timeout"`
}

// Notifications contains configuration for ntfy operator alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFailures    bool   `toml:"job_failures"`
	Workflows      bool   `toml:"workflows"`
}

// Store selects the task store backend.
type Store struct {
	Backend string `toml:"backend"`
	DSN     string `toml:"dsn"`
}

// Commands maps each operation to the external command that implements it.
type Commands struct {
	Denoise    string `toml:"denoise"`
	Transcribe string `toml:"transcribe"`
	Trim       string `toml:"trim"`
	Separate   string `toml:"separate"`
	Sentiment  string `toml:"sentiment"`
	TTS        string `toml:"tts"`
}

// Processing contains settings for the processing adapters.
type Processing struct {
	Commands      Commands `toml:"commands"`
	WhisperModel  string   `toml:"whisper_model"`
	WhisperDevice string   `toml:"whisper_device"`
	DemucsModel   string   `toml:"demucs_model"`
	DemucsDevice  string   `toml:"demucs_device"`
	// FFprobeBinary is used to read audio metadata for intent classification.
	FFprobeBinary string   `toml:"ffprobe_binary"`
}

// Cleanup contains the periodic maintenance schedule.
type Cleanup struct {
	Enabled         bool   `toml:"enabled"`
	Schedule        string `toml:"schedule"`
	MaxFileAgeHours int    `toml:"max_file_age_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for WaveQ.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address and token
//   - Jobs: worker pool size, deadlines, and job retention
//   - Workflow: executor dispatch mode
//   - Webhook: completion callback timeout
//   - Notifications: ntfy operator alerts
//   - Store: task store backend and DSN
//   - Processing: external commands and model settings per operation
//   - Cleanup: periodic purge of stale jobs and files
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Jobs          Jobs          `toml:"jobs"`
	Workflow      Workflow      `toml:"workflow"`
	Webhook       Webhook       `toml:"webhook"`
	Notifications Notifications `toml:"notifications"`
	Store         Store         `toml:"store"`
	Processing    Processing    `toml:"processing"`
	Cleanup       Cleanup       `toml:"cleanup"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	// A missing .env file is the common case.
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("waveq.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.UploadDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JobTimeout returns the hard per-job deadline.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.JobTimeout) * time.Second
}

// SoftTimeout returns the deadline handed to processing functions.
func (c *Config) SoftTimeout() time.Duration {
	if c.Jobs.SoftTimeout <= 0 {
		return time.Duration(softTimeoutFor(c.Jobs.JobTimeout)) * time.Second
	}
	return time.Duration(c.Jobs.SoftTimeout) * time.Second
}

// WebhookTimeout returns the completion callback request timeout.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.RequestTimeout) * time.Second
}

// JobRetention returns how long finished jobs are kept before cleanup purges them.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.Jobs.RetentionHours) * time.Hour
}

// FileMaxAge returns the age after which upload and output files are removed.
func (c *Config) FileMaxAge() time.Duration {
	return time.Duration(c.Cleanup.MaxFileAgeHours) * time.Hour
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "waveq.lock")
}

// CommandFor returns the configured command line for an operation name.
func (c *Config) CommandFor(operation string) string {
	switch operation {
	case "denoise":
		return c.Processing.Commands.Denoise
	case "transcribe":
		return c.Processing.Commands.Transcribe
	case "trim":
		return c.Processing.Commands.Trim
	case "separate":
		return c.Processing.Commands.Separate
	case "sentiment":
		return c.Processing.Commands.Sentiment
	case "tts":
		return c.Processing.Commands.TTS
	default:
		return ""
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	if redacted.Paths.APIToken != "" {
		redacted.Paths.APIToken = "<redacted>"
	}
	if redacted.Store.DSN != "" && redacted.Store.Backend != "sqlite" {
		redacted.Store.DSN = "<redacted>"
	}
	return toml.Marshal(redacted)
}
