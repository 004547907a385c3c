// Package jobs persists the classification job state machine.
//
// A job walks a bounded set of corpus work items in fixed-size chunks:
// pending -> running <-> paused, terminating in completed, errored, or
// cancelled. The store enforces mutual exclusion per scope (one active job
// per job type and corpus) and uses conditional status-guarded updates so a
// chunk executor and a concurrent cancel request cannot lose each other's
// writes. Heartbeats let the orchestrator reclaim orphaned jobs after an
// uncontrolled restart.
package jobs
