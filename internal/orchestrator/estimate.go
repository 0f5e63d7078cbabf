package orchestrator

import (
	"time"

	"waveq/internal/processing"
)

// Estimate returns the expected wall time of a plan for an input of
// sizeBytes. Steps in one dispatch group count once, at their slowest.
func Estimate(steps []Step, sizeBytes int64, parallel bool) time.Duration {
	var total time.Duration
	for _, group := range Groups(steps, parallel) {
		var slowest time.Duration
		for _, step := range group {
			if d := processing.Estimate(step.Operation, sizeBytes); d > slowest {
				slowest = d
			}
		}
		total += slowest
	}
	return total
}
