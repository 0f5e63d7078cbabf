package processing

import (
	"time"

	"waveq/internal/queue"
)

// Seconds of processing per megabyte of input, by operation.
var secondsPerMB = map[queue.Operation]float64{
	queue.OperationDenoise:    2.0,
	queue.OperationTranscribe: 3.0,
	queue.OperationTrim:       1.0,
	queue.OperationSeparate:   5.0,
	queue.OperationSentiment:  3.5,
	queue.OperationTTS:        0.5,
}

const fallbackSecondsPerMB = 2.0

// Estimate returns a rough processing time for an input of sizeBytes.
func Estimate(op queue.Operation, sizeBytes int64) time.Duration {
	rate, ok := secondsPerMB[op]
	if !ok {
		rate = fallbackSecondsPerMB
	}
	mb := float64(sizeBytes) / (1024 * 1024)
	return time.Duration(mb * rate * float64(time.Second))
}
