// Package runner implements the parallel job runner: a bounded-concurrency
// scheduler that multiplexes external test processes through a fixed number of
// slots.
//
// # How It Works
//
// The Runner is driven entirely from the caller's goroutine:
//
//  1. Submit hands over a job and its command. Jobs whose prerequisites have
//     not finished are parked in a wait queue. Ready jobs pass the load gate,
//     wait for a free slot and are launched.
//  2. Poll makes one pass over the occupied slots. Exited processes are
//     finalized through the Harness. Overtime ones get SIGTERM, then SIGKILL
//     after KillGrace, over as many passes as that takes; long running ones
//     get a single "RUNNING..." notice through the Reporter.
//  3. Join keeps polling and promoting queued jobs until every slot and the
//     queue are empty. Jobs that depend on skipped jobs are skipped in turn;
//     whatever remains after that is stranded on a cyclic or unknown
//     prerequisite and is returned as a *DependencyError.
//
// Every wait (for a free slot, for the load to drop, for the next poll tick)
// is another call into Poll, so completion and timeout detection continue
// while the caller is blocked.
//
// # Thread-Safety
//
// The slot table, wait queue and finished/skipped sets are owned by the
// goroutine calling Submit, Poll, Join and MarkSkipped; those methods must not
// be called concurrently. Stats is the exception and may be read from any
// goroutine.
package runner
