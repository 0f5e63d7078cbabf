package processing

import (
	"context"
	"fmt"

	"waveq/internal/queue"
	"waveq/internal/services"
)

// OutputPathKey is the result key that carries a produced audio artifact.
// The workflow executor feeds it to the next step as input.
const OutputPathKey = "output_path"

// Input is the argument passed to a processing function.
type Input struct {
	JobID     string
	Operation queue.Operation
	InputRef  string
	OutputDir string
	Config    map[string]any
}

// Result is the JSON-shaped value returned by a processing function.
type Result map[string]any

// OutputRef returns the produced artifact path, if any.
func (r Result) OutputRef() (string, bool) {
	if r == nil {
		return "", false
	}
	value, ok := r[OutputPathKey].(string)
	return value, ok && value != ""
}

// Func performs one operation. The context carries the soft deadline.
type Func func(ctx context.Context, in Input) (Result, error)

// Set maps every operation to its handler.
type Set struct {
	Denoise    Func
	Transcribe Func
	Trim       Func
	Separate   Func
	Sentiment  Func
	TTS        Func
}

// Lookup returns the handler for op.
func (s Set) Lookup(op queue.Operation) (Func, error) {
	var fn Func
	switch op {
	case queue.OperationDenoise:
		fn = s.Denoise
	case queue.OperationTranscribe:
		fn = s.Transcribe
	case queue.OperationTrim:
		fn = s.Trim
	case queue.OperationSeparate:
		fn = s.Separate
	case queue.OperationSentiment:
		fn = s.Sentiment
	case queue.OperationTTS:
		fn = s.TTS
	default:
		return nil, services.Wrap(services.ErrValidation, "processing", string(op), fmt.Sprintf("unknown operation %q", op), nil)
	}
	if fn == nil {
		return nil, services.Wrap(services.ErrProcessing, "processing", string(op), "no handler registered", nil)
	}
	return fn, nil
}

// Uniform builds a Set that uses fn for every operation.
func Uniform(fn Func) Set {
	return Set{Denoise: fn, Transcribe: fn, Trim: fn, Separate: fn, Sentiment: fn, TTS: fn}
}
