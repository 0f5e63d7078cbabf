package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"waveq/internal/config"
	"waveq/internal/logging"
	"waveq/internal/queue"
	"waveq/internal/services"
)

// Runner executes a command with stdin and returns stdout.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// Request is the JSON document written to a processing command's stdin.
type Request struct {
	JobID      string         `json:"job_id"`
	Operation  string         `json:"operation"`
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path,omitempty"`
	OutputDir  string         `json:"output_dir"`
	Config     map[string]any `json:"config"`
}

// CommandSet runs configured external commands.
type CommandSet struct {
	cfg    *config.Config
	logger *slog.Logger
	runner Runner
}

// Option configures a CommandSet.
type Option func(*CommandSet)

// WithRunner overrides command execution (for testing).
func WithRunner(runner Runner) Option {
	return func(c *CommandSet) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// NewCommandSet builds a Set backed by the commands in cfg.
func NewCommandSet(cfg *config.Config, logger *slog.Logger, opts ...Option) Set {
	c := &CommandSet{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "processing"),
		runner: runCommand,
	}
	for _, opt := range opts {
		opt(c)
	}
	return Set{
		Denoise:    c.handler(queue.OperationDenoise),
		Transcribe: c.handler(queue.OperationTranscribe),
		Trim:       c.handler(queue.OperationTrim),
		Separate:   c.handler(queue.OperationSeparate),
		Sentiment:  c.handler(queue.OperationSentiment),
		TTS:        c.handler(queue.OperationTTS),
	}
}

func (c *CommandSet) handler(op queue.Operation) Func {
	return func(ctx context.Context, in Input) (Result, error) {
		argv := strings.Fields(c.cfg.CommandFor(string(op)))
		if len(argv) == 0 {
			return nil, services.Wrap(services.ErrProcessing, "processing", string(op),
				fmt.Sprintf("no command configured (set processing.commands.%s)", op), nil)
		}

		req := c.buildRequest(op, in)
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrProcessing, "processing", string(op), "ensure output dir", err)
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, services.Wrap(services.ErrProcessing, "processing", string(op), "encode request", err)
		}

		logging.WithContext(ctx, c.logger).Debug("processing command started",
			logging.String("command", argv[0]),
			logging.String("input_path", req.InputPath),
		)
		stdout, err := c.runner(ctx, payload, argv[0], argv[1:]...)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, services.Wrap(services.ErrTimeout, "processing", string(op), "soft deadline reached", err)
			}
			return nil, services.Wrap(services.ErrProcessing, "processing", string(op), "command failed", err)
		}

		result := Result{}
		if trimmed := bytes.TrimSpace(stdout); len(trimmed) > 0 {
			if err := json.Unmarshal(trimmed, &result); err != nil {
				return nil, services.Wrap(services.ErrProcessing, "processing", string(op), "decode command output", err)
			}
		}
		if result == nil {
			// A literal null decodes to a nil map.
			result = Result{}
		}
		if _, ok := result.OutputRef(); !ok && req.OutputPath != "" {
			if _, statErr := os.Stat(req.OutputPath); statErr == nil {
				result[OutputPathKey] = req.OutputPath
			}
		}
		result["task_id"] = in.JobID
		return result, nil
	}
}

func (c *CommandSet) buildRequest(op queue.Operation, in Input) Request {
	cfg := queue.CloneMap(in.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	switch op {
	case queue.OperationTranscribe, queue.OperationSentiment, queue.OperationTTS:
		setDefault(cfg, "device", c.cfg.Processing.WhisperDevice)
		if op == queue.OperationTranscribe {
			setDefault(cfg, "model", c.cfg.Processing.WhisperModel)
		}
	case queue.OperationSeparate:
		setDefault(cfg, "model", c.cfg.Processing.DemucsModel)
		setDefault(cfg, "device", c.cfg.Processing.DemucsDevice)
	}

	outputDir := in.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(c.cfg.Paths.OutputDir, in.JobID)
	}
	req := Request{
		JobID:     in.JobID,
		Operation: string(op),
		InputPath: in.InputRef,
		OutputDir: outputDir,
		Config:    cfg,
	}
	if suffix := outputSuffix(op); suffix != "" {
		req.OutputPath = filepath.Join(outputDir, in.JobID+suffix)
	}
	return req
}

func outputSuffix(op queue.Operation) string {
	switch op {
	case queue.OperationDenoise:
		return "_denoised.wav"
	case queue.OperationTrim:
		return "_trimmed.wav"
	case queue.OperationTTS:
		return "_speech.wav"
	default:
		return ""
	}
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
