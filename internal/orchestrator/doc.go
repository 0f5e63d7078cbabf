// Package orchestrator turns an audio request into an executed workflow.
//
// Classify maps audio metadata and user hints to an Intent. The Planner
// expands an intent (or an explicit operation list) into ordered Steps with
// per-operation defaults merged under caller customizations, and Optimize
// flags adjacent steps that may run side by side. The Executor drives the
// steps through the dispatcher, chaining each step's output into the next,
// and halts on the first failure. Service ties these together for the API
// and CLI and tracks asynchronous runs.
package orchestrator
