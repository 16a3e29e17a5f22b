// Package engine implements the sync scheduler: the loop that drains the
// Local Ledger into the remote system of record.
//
// ARCHITECTURE:
//
// Single Scheduler Goroutine:
// Run owns the drain loop. Everything that wants a drain pass only signals:
//   - the connectivity monitor, on an offline -> online transition
//   - the caller-facing service, after queueing a mutation while online
//   - a periodic safety ticker
//
// Signals coalesce through 1-slot channels, so any burst of triggers costs at
// most one extra pass. Online transitions additionally pass through a settle
// window: flapping connectivity yields one drain pass after the last online
// transition.
//
// Drain Pass:
//  1. Take the earliest Queued mutation (global FIFO by seq).
//  2. If it is backing off, sleep until it is due (state Backoff).
//  3. Mark it InFlight and hand it to the conflict resolver.
//  4. Record the outcome: Applied/Superseded leave the log, Failed becomes a
//     dead letter, a transient error requeues with exponential backoff.
//  5. Reconcile the local snapshot with the freshest remote document.
//
// The pass stops when the queue is empty, connectivity drops, or the context
// ends. A delivery interrupted by shutdown is reverted to Queued and never
// counts as an attempt.
//
// CRITICAL PATTERNS:
//
// Head-of-line ordering:
// The queue is strictly FIFO. A mutation in backoff holds back everything
// queued after it, which is what keeps per-entity order intact on the remote.
//
// One pass at a time:
// DrainOnce is guarded by an atomic flag. A call that arrives while a pass is
// running returns immediately; the running pass will see the new work.
package engine
