// Package api exposes the job dispatcher and workflow orchestrator over HTTP.
//
// The server is built on echo. Routes live under /api/v1 and speak JSON with
// snake_case keys:
//
//	GET    /health                  liveness, never authenticated
//	GET    /api/v1/status           dispatcher occupancy and job counts
//	POST   /api/v1/jobs             submit a single job (202)
//	GET    /api/v1/jobs             list jobs, filtered by ?status= and ?workflow_id=
//	GET    /api/v1/jobs/:id         job snapshot
//	DELETE /api/v1/jobs/:id         cancel a pending or processing job
//	POST   /api/v1/workflows        classify, plan, and run a workflow (202)
//	POST   /api/v1/workflows/plan   plan preview without execution
//	GET    /api/v1/workflows        tracked workflows, newest first
//	GET    /api/v1/workflows/:id    workflow snapshot
//
// Errors are rendered as {"error": "...", "kind": "..."} where kind is the
// services error kind. Validation maps to 400, not_found to 404, and
// invalid_state to 409. Everything else is a 500.
//
// When paths.api_token is set every route except /health requires an
// "Authorization: Bearer <token>" header.
//
// Client is the matching HTTP client used by the CLI.
package api
