package processing_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"waveq/internal/config"
	"waveq/internal/logging"
	"waveq/internal/processing"
	"waveq/internal/queue"
	"waveq/internal/services"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.OutputDir = t.TempDir()
	return &cfg
}

func TestLookupIsExhaustive(t *testing.T) {
	called := map[queue.Operation]bool{}
	set := processing.Uniform(func(_ context.Context, in processing.Input) (processing.Result, error) {
		called[in.Operation] = true
		return processing.Result{}, nil
	})
	for _, op := range queue.Operations() {
		fn, err := set.Lookup(op)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", op, err)
		}
		if _, err := fn(context.Background(), processing.Input{Operation: op}); err != nil {
			t.Fatalf("handler %s: %v", op, err)
		}
	}
	if len(called) != len(queue.Operations()) {
		t.Fatalf("expected every operation handled, got %v", called)
	}
	if _, err := set.Lookup(queue.Operation("reverb")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown op, got %v", err)
	}
	if _, err := (processing.Set{}).Lookup(queue.OperationTTS); !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error for missing handler, got %v", err)
	}
}

func TestCommandSetRequiresConfiguredCommand(t *testing.T) {
	set := processing.NewCommandSet(testConfig(t), logging.NewNop())
	fn, _ := set.Lookup(queue.OperationDenoise)
	_, err := fn(context.Background(), processing.Input{JobID: "task_1", InputRef: "/in.wav"})
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
}

func TestCommandSetBuildsRequest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.Commands.Separate = "demucs-wrapper --quiet"
	cfg.Processing.DemucsDevice = "cuda"

	var (
		gotName string
		gotArgs []string
		gotReq  processing.Request
	)
	runner := func(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		if err := json.Unmarshal(stdin, &gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return []byte(`{"stems": {"vocals": "/out/vocals.wav"}, "output_path": "/out/vocals.wav"}`), nil
	}
	set := processing.NewCommandSet(cfg, logging.NewNop(), processing.WithRunner(runner))
	fn, _ := set.Lookup(queue.OperationSeparate)

	result, err := fn(context.Background(), processing.Input{
		JobID:    "task_abc",
		InputRef: "/uploads/song.wav",
		Config:   map[string]any{"separation_type": "drums"},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if gotName != "demucs-wrapper" || len(gotArgs) != 1 || gotArgs[0] != "--quiet" {
		t.Fatalf("unexpected argv %q %v", gotName, gotArgs)
	}
	if gotReq.InputPath != "/uploads/song.wav" || gotReq.Operation != "separate" {
		t.Fatalf("unexpected request %+v", gotReq)
	}
	if gotReq.Config["model"] != "htdemucs" || gotReq.Config["device"] != "cuda" || gotReq.Config["separation_type"] != "drums" {
		t.Fatalf("expected demucs defaults merged, got %v", gotReq.Config)
	}
	if gotReq.OutputDir != filepath.Join(cfg.Paths.OutputDir, "task_abc") {
		t.Fatalf("unexpected output dir %q", gotReq.OutputDir)
	}
	if info, err := os.Stat(gotReq.OutputDir); err != nil || !info.IsDir() {
		t.Fatalf("expected output dir created: %v", err)
	}
	if ref, ok := result.OutputRef(); !ok || ref != "/out/vocals.wav" {
		t.Fatalf("unexpected output ref %q", ref)
	}
	if result["task_id"] != "task_abc" {
		t.Fatalf("expected task id stamped on result, got %v", result)
	}
}

func TestCommandSetDetectsWrittenOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.Commands.Denoise = "denoise"
	runner := func(_ context.Context, stdin []byte, _ string, _ ...string) ([]byte, error) {
		var req processing.Request
		_ = json.Unmarshal(stdin, &req)
		return nil, os.WriteFile(req.OutputPath, []byte("RIFF"), 0o644)
	}
	set := processing.NewCommandSet(cfg, nil, processing.WithRunner(runner))
	fn, _ := set.Lookup(queue.OperationDenoise)
	result, err := fn(context.Background(), processing.Input{JobID: "task_d", InputRef: "/in.wav"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	want := filepath.Join(cfg.Paths.OutputDir, "task_d", "task_d_denoised.wav")
	if ref, _ := result.OutputRef(); ref != want {
		t.Fatalf("expected output %q, got %q", want, ref)
	}
}

func TestCommandSetClassifiesFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.Commands.Trim = "trim"
	failing := func(ctx context.Context, _ []byte, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	set := processing.NewCommandSet(cfg, nil, processing.WithRunner(failing))
	fn, _ := set.Lookup(queue.OperationTrim)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := fn(ctx, processing.Input{JobID: "task_t"}); !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout classification, got %v", err)
	}

	bad := func(context.Context, []byte, string, ...string) ([]byte, error) { return []byte("not json"), nil }
	set = processing.NewCommandSet(cfg, nil, processing.WithRunner(bad))
	fn, _ = set.Lookup(queue.OperationTrim)
	if _, err := fn(context.Background(), processing.Input{JobID: "task_t"}); !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error for bad output, got %v", err)
	}
}

func TestCommandSetRunsRealCommand(t *testing.T) {
	cfg := testConfig(t)
	// cat echoes the request back, which is a valid JSON object result.
	cfg.Processing.Commands.Sentiment = "cat"
	set := processing.NewCommandSet(cfg, nil)
	fn, _ := set.Lookup(queue.OperationSentiment)
	result, err := fn(context.Background(), processing.Input{JobID: "task_cat", InputRef: "/in.wav"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result["input_path"] != "/in.wav" || result["operation"] != "sentiment" {
		t.Fatalf("unexpected echoed result %v", result)
	}
}

func TestCommandSetToleratesNullOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.Commands.Sentiment = "sentiment"
	runner := func(context.Context, []byte, string, ...string) ([]byte, error) {
		return []byte("null\n"), nil
	}
	set := processing.NewCommandSet(cfg, nil, processing.WithRunner(runner))
	fn, _ := set.Lookup(queue.OperationSentiment)
	result, err := fn(context.Background(), processing.Input{JobID: "task_null", InputRef: "/in.wav"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result["task_id"] != "task_null" {
		t.Fatalf("expected task id stamped on result, got %v", result)
	}
}

func TestEstimate(t *testing.T) {
	if got := processing.Estimate(queue.OperationSeparate, 2*1024*1024); got != 10*time.Second {
		t.Fatalf("unexpected separate estimate %s", got)
	}
	if got := processing.Estimate(queue.Operation("other"), 1024*1024); got != 2*time.Second {
		t.Fatalf("unexpected fallback estimate %s", got)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		op      queue.Operation
		cfg     map[string]any
		wantErr bool
	}{
		{name: "empty", op: queue.OperationDenoise},
		{name: "denoise ok", op: queue.OperationDenoise, cfg: map[string]any{"noise_reduction_level": 0.3, "enhance_speech": false}},
		{name: "denoise level too high", op: queue.OperationDenoise, cfg: map[string]any{"noise_reduction_level": 1.5}, wantErr: true},
		{name: "denoise bool typed", op: queue.OperationDenoise, cfg: map[string]any{"enhance_speech": "yes"}, wantErr: true},
		{name: "int accepted as number", op: queue.OperationDenoise, cfg: map[string]any{"noise_reduction_level": 1}},
		{name: "json number", op: queue.OperationSentiment, cfg: map[string]any{"confidence_threshold": json.Number("0.7")}},
		{name: "confidence negative", op: queue.OperationSentiment, cfg: map[string]any{"confidence_threshold": -0.1}, wantErr: true},
		{name: "transcribe model", op: queue.OperationTranscribe, cfg: map[string]any{"model": "medium"}},
		{name: "transcribe bad model", op: queue.OperationTranscribe, cfg: map[string]any{"model": "huge"}, wantErr: true},
		{name: "separation type", op: queue.OperationSeparate, cfg: map[string]any{"separation_type": "drums"}},
		{name: "separation bad type", op: queue.OperationSeparate, cfg: map[string]any{"separation_type": "piano"}, wantErr: true},
		{name: "tts speed low", op: queue.OperationTTS, cfg: map[string]any{"speed": 0.2}, wantErr: true},
		{name: "tts empty text", op: queue.OperationTTS, cfg: map[string]any{"text": "  "}, wantErr: true},
		{name: "unknown keys pass", op: queue.OperationTrim, cfg: map[string]any{"custom": []any{1, 2}}},
		{name: "unknown operation", op: queue.Operation("echo"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := processing.ValidateConfig(tt.op, tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, services.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
