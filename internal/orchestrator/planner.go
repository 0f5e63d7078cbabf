package orchestrator

import (
	"fmt"

	"waveq/internal/processing"
	"waveq/internal/queue"
	"waveq/internal/services"
)

// Step is one operation in a workflow plan.
type Step struct {
	Operation        queue.Operation `json:"operation"`
	Config           map[string]any  `json:"config"`
	ParallelWithNext bool            `json:"parallel_with_next"`
}

// Customizations override default configuration per operation.
type Customizations map[queue.Operation]map[string]any

// ParseCustomizations converts decoded JSON into Customizations, rejecting
// unknown operation names.
func ParseCustomizations(raw map[string]map[string]any) (Customizations, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(Customizations, len(raw))
	for name, cfg := range raw {
		op, err := queue.ParseOperation(name)
		if err != nil {
			return nil, err
		}
		out[op] = queue.CloneMap(cfg)
	}
	return out, nil
}

var intentOperations = map[Intent][]queue.Operation{
	IntentPodcastProduction: {queue.OperationDenoise, queue.OperationTrim, queue.OperationTranscribe, queue.OperationSentiment},
	IntentVoiceEnhancement:  {queue.OperationDenoise, queue.OperationTrim},
	IntentMusicProduction:   {queue.OperationSeparate, queue.OperationDenoise},
	IntentTranscriptionOnly: {queue.OperationTranscribe},
	IntentVoiceCloning:      {queue.OperationDenoise, queue.OperationTTS},
}

// fallbackOperations is planned for intents without a table entry,
// including custom requests that name no operations.
var fallbackOperations = []queue.Operation{queue.OperationDenoise}

var defaultConfigs = map[queue.Operation]map[string]any{
	queue.OperationDenoise: {
		"noise_reduction_level": 0.8,
		"enhance_speech":        true,
	},
	queue.OperationTranscribe: {
		"enable_diarization": false,
		"timestamps":         true,
		"model":              "base",
	},
	queue.OperationTrim: {
		"silence_threshold_db": -40.0,
		"min_silence_duration": 0.5,
		"remove_silence":       true,
	},
	queue.OperationSeparate: {
		"separation_type": "vocals",
		"model":           "htdemucs",
	},
	queue.OperationSentiment: {
		"include_emotions":     true,
		"confidence_threshold": 0.5,
	},
	queue.OperationTTS: {
		"language": "en",
		"speed":    1.0,
	},
}

// parallelPairs lists adjacent operations that never consume each other's output.
var parallelPairs = map[[2]queue.Operation]bool{
	{queue.OperationTranscribe, queue.OperationSentiment}: true,
	{queue.OperationSentiment, queue.OperationTranscribe}: true,
}

// Planner expands intents into workflow steps.
type Planner struct{}

// NewPlanner returns a planner using the built-in operation tables.
func NewPlanner() *Planner {
	return &Planner{}
}

// Operations returns the operation sequence planned for intent.
func (p *Planner) Operations(intent Intent) []queue.Operation {
	ops, ok := intentOperations[intent]
	if !ok {
		ops = fallbackOperations
	}
	return append([]queue.Operation(nil), ops...)
}

// Plan builds the steps for intent. Customizations are shallow-merged over
// each operation's defaults and the result is validated.
func (p *Planner) Plan(intent Intent, custom Customizations) ([]Step, error) {
	return p.build(p.Operations(intent), custom)
}

// PlanOperations builds a custom workflow from an explicit operation list.
func (p *Planner) PlanOperations(ops []queue.Operation, custom Customizations) ([]Step, error) {
	if len(ops) == 0 {
		return nil, services.Wrap(services.ErrValidation, "planner", "plan operations", "at least one operation is required", nil)
	}
	parsed := make([]queue.Operation, 0, len(ops))
	for _, op := range ops {
		valid, err := queue.ParseOperation(string(op))
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, valid)
	}
	return p.build(parsed, custom)
}

func (p *Planner) build(ops []queue.Operation, custom Customizations) ([]Step, error) {
	steps := make([]Step, 0, len(ops))
	for _, op := range ops {
		cfg := Defaults(op)
		for key, value := range custom[op] {
			cfg[key] = value
		}
		if err := processing.ValidateConfig(op, cfg); err != nil {
			return nil, services.Wrap(services.ErrValidation, "planner", string(op), fmt.Sprintf("invalid configuration for step %d", len(steps)+1), err)
		}
		steps = append(steps, Step{Operation: op, Config: cfg})
	}
	return steps, nil
}

// Defaults returns a fresh copy of the default configuration for op.
func Defaults(op queue.Operation) map[string]any {
	cfg := queue.CloneMap(defaultConfigs[op])
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg
}

// Optimize returns a copy of steps with ParallelWithNext set exactly on
// steps whose successor forms an independent pair. Order is preserved.
func Optimize(steps []Step) []Step {
	out := CloneSteps(steps)
	for i := range out {
		out[i].ParallelWithNext = i+1 < len(out) && parallelPairs[[2]queue.Operation{out[i].Operation, out[i+1].Operation}]
	}
	return out
}

// CloneSteps deep-copies a plan.
func CloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, step := range steps {
		out[i] = Step{
			Operation:        step.Operation,
			Config:           queue.CloneMap(step.Config),
			ParallelWithNext: step.ParallelWithNext,
		}
	}
	return out
}

// Groups splits steps into dispatch groups. With parallel disabled every
// step is its own group; otherwise runs linked by ParallelWithNext share one.
func Groups(steps []Step, parallel bool) [][]Step {
	var groups [][]Step
	var current []Step
	for i, step := range steps {
		current = append(current, step)
		linked := parallel && step.ParallelWithNext && i+1 < len(steps)
		if !linked {
			groups = append(groups, current)
			current = nil
		}
	}
	return groups
}
