package processing

import (
	"encoding/json"
	"fmt"
	"strings"

	"waveq/internal/queue"
	"waveq/internal/services"
)

var (
	separationTypes   = []string{"vocals", "drums", "bass", "other"}
	transcriberModels = []string{"tiny", "base", "small", "medium", "large"}
)

type fieldKind int

const (
	kindBool fieldKind = iota
	kindNumber
	kindString
)

type fieldRule struct {
	kind     fieldKind
	min, max float64
	ranged   bool
	oneOf    []string
	nonEmpty bool
}

// rules lists the typed arguments each operation understands. Keys that are
// not listed pass through untouched.
var rules = map[queue.Operation]map[string]fieldRule{
	queue.OperationDenoise: {
		"noise_reduction_level": {kind: kindNumber, min: 0, max: 1, ranged: true},
		"enhance_speech":        {kind: kindBool},
	},
	queue.OperationTranscribe: {
		"language":           {kind: kindString},
		"enable_diarization": {kind: kindBool},
		"timestamps":         {kind: kindBool},
		"model":              {kind: kindString, oneOf: transcriberModels},
	},
	queue.OperationTrim: {
		"silence_threshold_db": {kind: kindNumber},
		"min_silence_duration": {kind: kindNumber, min: 0, max: 3600, ranged: true},
		"remove_silence":       {kind: kindBool},
	},
	queue.OperationSeparate: {
		"separation_type": {kind: kindString, oneOf: separationTypes},
		"model":           {kind: kindString},
		"save_all_stems":  {kind: kindBool},
	},
	queue.OperationSentiment: {
		"include_emotions":     {kind: kindBool},
		"confidence_threshold": {kind: kindNumber, min: 0, max: 1, ranged: true},
	},
	queue.OperationTTS: {
		"text":     {kind: kindString, nonEmpty: true},
		"voice_id": {kind: kindString},
		"language": {kind: kindString},
		"speed":    {kind: kindNumber, min: 0.5, max: 2.0, ranged: true},
	},
}

// ValidateConfig checks the typed arguments of op. Malformed values yield a
// services.ErrValidation naming the offending key.
func ValidateConfig(op queue.Operation, cfg map[string]any) error {
	fields, ok := rules[op]
	if !ok {
		return services.Wrap(services.ErrValidation, "processing", "validate config", fmt.Sprintf("unknown operation %q", op), nil)
	}
	for key, value := range cfg {
		rule, known := fields[key]
		if !known || value == nil {
			continue
		}
		if err := rule.check(value); err != nil {
			return services.Wrap(services.ErrValidation, "processing", string(op), fmt.Sprintf("%s: %v", key, err), nil)
		}
	}
	return nil
}

func (r fieldRule) check(value any) error {
	switch r.kind {
	case kindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case kindNumber:
		n, ok := Number(value)
		if !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
		if r.ranged && (n < r.min || n > r.max) {
			return fmt.Errorf("%g outside [%g, %g]", n, r.min, r.max)
		}
	case kindString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if r.nonEmpty && strings.TrimSpace(s) == "" {
			return fmt.Errorf("must not be empty")
		}
		if len(r.oneOf) > 0 && !contains(r.oneOf, strings.ToLower(s)) {
			return fmt.Errorf("%q not one of %s", s, strings.Join(r.oneOf, ", "))
		}
	}
	return nil
}

// Number converts JSON and Go numeric values to float64.
func Number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(values []string, candidate string) bool {
	for _, v := range values {
		if v == candidate {
			return true
		}
	}
	return false
}
