package testsupport

import (
	"context"
	"sync"

	"waveq/internal/notifications"
)

// Delivery is one recorded webhook call.
type Delivery struct {
	URL     string
	Payload notifications.WebhookPayload
}

// RecordingNotifier captures webhook deliveries instead of sending them.
type RecordingNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	Accept     bool
}

// Notify records the delivery and reports Accept.
func (r *RecordingNotifier) Notify(_ context.Context, url string, payload notifications.WebhookPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{URL: url, Payload: payload})
	return r.Accept
}

// Deliveries returns a copy of every recorded call.
func (r *RecordingNotifier) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// For returns the deliveries whose payload names taskID.
func (r *RecordingNotifier) For(taskID string) []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries() {
		if d.Payload.TaskID == taskID {
			out = append(out, d)
		}
	}
	return out
}
