// Package notifications delivers job outcomes to the outside world.
//
// Webhook posts a single completion callback to a caller-supplied URL and
// reports success as a bool; failures are logged and never retried. Service
// publishes operator alerts to an ntfy topic and degrades to a no-op when no
// topic is configured.
package notifications
