package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"waveq/internal/config"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"WAVEQ_API_TOKEN", "WAVEQ_STORE_DSN", "DATABASE_URL", "WAVEQ_NTFY_TOPIC"} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	home := isolateEnv(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantUploads := filepath.Join(home, ".local", "share", "waveq", "uploads")
	if cfg.Paths.UploadDir != wantUploads {
		t.Fatalf("unexpected upload dir: got %q want %q", cfg.Paths.UploadDir, wantUploads)
	}
	if cfg.Paths.APIBind != "127.0.0.1:8000" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Jobs.MaxConcurrentJobs != 5 {
		t.Fatalf("expected 5 workers, got %d", cfg.Jobs.MaxConcurrentJobs)
	}
	if cfg.JobTimeout() != 600*time.Second {
		t.Fatalf("unexpected job timeout: %s", cfg.JobTimeout())
	}
	if cfg.SoftTimeout() != 540*time.Second {
		t.Fatalf("unexpected soft timeout: %s", cfg.SoftTimeout())
	}
	if cfg.WebhookTimeout() != 10*time.Second {
		t.Fatalf("unexpected webhook timeout: %s", cfg.WebhookTimeout())
	}
	if cfg.Workflow.ParallelDispatch {
		t.Fatal("expected parallel dispatch disabled by default")
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("unexpected store backend: %q", cfg.Store.Backend)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "waveq.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
api_token = "  secret  "
cors_origins = ["http://localhost:3000", " "]

[jobs]
max_concurrent_jobs = 2
job_timeout = 30

[workflow]
parallel_dispatch = true

[store]
backend = "SQLite"

[processing.commands]
denoise = " denoise-cli --fast "
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected trimmed token, got %q", cfg.Paths.APIToken)
	}
	if len(cfg.Paths.CORSOrigins) != 1 {
		t.Fatalf("expected blank origins dropped, got %v", cfg.Paths.CORSOrigins)
	}
	if cfg.Jobs.MaxConcurrentJobs != 2 {
		t.Fatalf("unexpected worker count %d", cfg.Jobs.MaxConcurrentJobs)
	}
	if cfg.Jobs.SoftTimeout != 30 {
		t.Fatalf("short job timeouts should not get a margin, got %d", cfg.Jobs.SoftTimeout)
	}
	if !cfg.Workflow.ParallelDispatch {
		t.Fatal("expected parallel dispatch enabled")
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected lower-cased backend, got %q", cfg.Store.Backend)
	}
	if want := filepath.Join(dir, "data", "waveq.db"); cfg.Store.DSN != want {
		t.Fatalf("expected sqlite dsn %q, got %q", want, cfg.Store.DSN)
	}
	if got := cfg.CommandFor("denoise"); got != "denoise-cli --fast" {
		t.Fatalf("unexpected denoise command %q", got)
	}
	if got := cfg.CommandFor("tts"); got != "" {
		t.Fatalf("expected no tts command, got %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WAVEQ_API_TOKEN", "from-env")
	t.Setenv("DATABASE_URL", "postgres://localhost/waveq")
	dir := t.TempDir()
	path := filepath.Join(dir, "waveq.toml")
	if err := os.WriteFile(path, []byte("[store]\nbackend = \"postgres\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.Paths.APIToken)
	}
	if cfg.Store.DSN != "postgres://localhost/waveq" {
		t.Fatalf("expected DATABASE_URL fallback, got %q", cfg.Store.DSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"workers", func(c *config.Config) { c.Jobs.MaxConcurrentJobs = 0 }, "max_concurrent_jobs"},
		{"soft exceeds hard", func(c *config.Config) { c.Jobs.SoftTimeout = 900 }, "soft_timeout"},
		{"backend", func(c *config.Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"postgres dsn", func(c *config.Config) { c.Store.Backend = "postgres" }, "store.dsn"},
		{"whisper model", func(c *config.Config) { c.Processing.WhisperModel = "huge" }, "whisper_model"},
		{"device", func(c *config.Config) { c.Processing.DemucsDevice = "tpu" }, "demucs_device"},
		{"schedule", func(c *config.Config) { c.Cleanup.Schedule = "every tuesday" }, "cleanup.schedule"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Jobs.SoftTimeout = 540
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config fails validation: %v", err)
	}
}

func TestEncodeRedactsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.APIToken = "hunter2"
	cfg.Store.Backend = "postgres"
	cfg.Store.DSN = "postgres://user:pass@db/waveq"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hunter2") || strings.Contains(out, "user:pass") {
		t.Fatalf("expected secrets redacted, got %s", out)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.OutputDir = filepath.Join(base, "outputs")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.UploadDir, cfg.Paths.OutputDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
