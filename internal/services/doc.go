// Package services defines shared utilities consumed by the dispatcher, the
// orchestrator and the API layer.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, operations, workflow runs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified into the stable kinds stored on jobs and mapped to HTTP
//     status codes.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the service.
package services
