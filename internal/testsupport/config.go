package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"waveq/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.OutputDir = filepath.Join(base, "outputs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Jobs.MaxConcurrentJobs = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithSQLiteStore switches the config to a sqlite store under the data dir.
func WithSQLiteStore() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = "sqlite"
		b.cfg.Store.DSN = filepath.Join(b.baseDir, "data", "waveq.db")
	}
}

// WithParallelDispatch enables concurrent dispatch of flagged workflow steps.
func WithParallelDispatch() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.ParallelDispatch = true
	}
}

// WithAPIToken sets the bearer token required by the API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithStubbedCommands writes stub executables for the provided operations,
// prepends them to PATH, and points the processing commands at them. Each
// stub echoes a JSON result naming its operation.
func WithStubbedCommands(operations ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, op := range operations {
			name := "waveq-" + op
			script := []byte("#!/bin/sh\ncat >/dev/null\necho '{\"operation\":\"" + op + "\"}'\n")
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
			setCommand(b.cfg, op, name)
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

func setCommand(cfg *config.Config, op, command string) {
	switch op {
	case "denoise":
		cfg.Processing.Commands.Denoise = command
	case "transcribe":
		cfg.Processing.Commands.Transcribe = command
	case "trim":
		cfg.Processing.Commands.Trim = command
	case "separate":
		cfg.Processing.Commands.Separate = command
	case "sentiment":
		cfg.Processing.Commands.Sentiment = command
	case "tts":
		cfg.Processing.Commands.TTS = command
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
