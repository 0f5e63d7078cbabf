package preflight

import (
	"context"

	"waveq/internal/config"
	"waveq/internal/queue"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckStore(ctx, cfg),
	}
	results = append(results, CheckCommands(cfg)...)
	return results
}

// CheckCommands reports whether each operation's processing command resolves
// on PATH, plus ffprobe. A missing ffprobe is optional because WAV headers
// are parsed directly.
func CheckCommands(cfg *config.Config) []Result {
	results := make([]Result, 0, len(queue.Operations())+1)
	for _, op := range queue.Operations() {
		results = append(results, CheckBinary(
			"Command: "+string(op),
			cfg.CommandFor(string(op)),
			false,
		))
	}
	results = append(results, CheckBinary("FFprobe", cfg.Processing.FFprobeBinary, true))
	return results
}

// Failures returns the required checks that did not pass.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
