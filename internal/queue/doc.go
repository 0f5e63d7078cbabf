// Package queue owns the job model and the task store.
//
// A Job moves through a small state machine (pending, processing, then one of
// completed, failed, or cancelled) and Store implementations guarantee that
// each transition is applied atomically per job. MemoryStore keeps jobs in
// process; SQLStore persists them through SQLite, PostgreSQL, or MySQL. The
// dispatcher and API layers depend only on the Store interface.
package queue
