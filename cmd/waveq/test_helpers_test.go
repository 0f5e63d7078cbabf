package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"waveq/internal/config"
	"waveq/internal/daemon"
	"waveq/internal/logging"
	"waveq/internal/processing"
	"waveq/internal/queue"
	"waveq/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      queue.Store
	daemon     *daemon.Daemon
	apiAddr    string
	configPath string
}

func succeed(_ context.Context, in processing.Input) (processing.Result, error) {
	return processing.Result{processing.OutputPathKey: filepath.Join(in.OutputDir, "out.wav")}, nil
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := queue.NewMemoryStore()
	d, err := daemon.New(context.Background(), cfg, logging.NewNop(), "test",
		daemon.WithStore(store),
		daemon.WithHandlers(processing.Uniform(succeed)),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		apiAddr:    d.APIAddr(),
		configPath: configPath,
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, context.Background(), append([]string{"--api", e.apiAddr, "--config", e.configPath}, args...))
}

func runCLI(t *testing.T, ctx context.Context, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
