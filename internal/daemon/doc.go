// Package daemon coordinates the long-running waveq process.
//
// It wires configuration, the task store, the job dispatcher, the workflow
// orchestrator, and the HTTP API into a single lifecycle with flock-based
// locking to prevent multiple instances sharing a data directory. A cron
// scheduler runs the periodic sweep that purges expired jobs, forgets finished
// workflows, and removes aged upload and output artifacts.
//
// Keep orchestration logic here: job and workflow semantics live in their
// respective packages while the daemon focuses on startup, shutdown, and
// housekeeping.
package daemon
