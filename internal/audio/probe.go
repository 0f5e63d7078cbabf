package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Metadata summarizes an audio input.
type Metadata struct {
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SizeBytes  int64   `json:"size_bytes,omitempty"`
	Format     string  `json:"format,omitempty"`
}

// report mirrors the subset of ffprobe JSON output we read.
type report struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Prober inspects files with ffprobe.
type Prober struct {
	Binary string
}

// NewProber returns a prober that runs binary (default "ffprobe").
func NewProber(binary string) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{Binary: binary}
}

// Probe returns metadata for path. WAV files are decoded natively when
// ffprobe cannot be run.
func (p *Prober) Probe(ctx context.Context, path string) (Metadata, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Metadata{}, errors.New("audio probe: empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("audio probe: %w", err)
	}

	meta, probeErr := p.inspect(ctx, path)
	if probeErr == nil {
		if meta.SizeBytes == 0 {
			meta.SizeBytes = info.Size()
		}
		return meta, nil
	}
	if wav, err := ReadWAV(path); err == nil {
		return wav, nil
	}
	return Metadata{SizeBytes: info.Size()}, probeErr
}

func (p *Prober) inspect(ctx context.Context, path string) (Metadata, error) {
	cmd := exec.CommandContext(ctx, p.Binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return parseReport(output)
}

func parseReport(output []byte) (Metadata, error) {
	var r report
	if err := json.Unmarshal(output, &r); err != nil {
		return Metadata{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	meta := Metadata{
		Duration:  parseFloat(r.Format.Duration),
		SizeBytes: int64(parseFloat(r.Format.Size)),
		Format:    r.Format.FormatName,
	}
	for _, stream := range r.Streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		meta.SampleRate = int(parseFloat(stream.SampleRate))
		meta.Channels = stream.Channels
		break
	}
	return meta, nil
}

// parseFloat returns 0 for empty, malformed, or negative values.
func parseFloat(value string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 {
		return 0
	}
	return parsed
}
