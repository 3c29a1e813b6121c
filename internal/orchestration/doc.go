// Package orchestration implements the transition pipeline for runs.
//
// Every change to a run's current state is proposed to the Engine, which
// evaluates an ordered core policy (graph legality, run-count bookkeeping,
// concurrency accounting, retry rewriting) and, once the core policy fully
// approves, an auxiliary policy (audit trail, notification fan-out, state
// data offload) inside a single transaction against the persistence layer.
//
// Policy decisions (Rejected, Delayed, Aborted) are values, not errors; only
// operational failures cross the Engine boundary as errors, and the Engine
// rolls back all partial side effects before surfacing them. Rules that
// performed side effects before a later rule vetoed the attempt are
// compensated through their Cleanup hooks, invoked in reverse execution
// order.
package orchestration
