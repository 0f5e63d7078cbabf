// Package dispatch runs submitted jobs on a bounded worker pool.
//
// Submit creates a pending job in the queue.Store and appends its id to an
// in-process FIFO. Workers claim jobs with an atomic pending to processing
// transition, so a job cancelled before it is claimed is skipped and no job
// is ever run twice. Each processing function receives a context carrying
// the soft deadline; a separate hard deadline forces the job to failed with
// a timeout error even if the function never returns, in which case its
// goroutine is abandoned and any late result is discarded.
//
// Completed and failed jobs with a callback URL trigger exactly one webhook.
// Cancellation never does. Wait lets the workflow executor block until a job
// reaches a terminal state.
package dispatch
