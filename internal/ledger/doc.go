// Package ledger implements the Local Ledger: the durable, crash-safe log of
// pending mutations plus the cached snapshot of every entity the terminal has
// seen.
//
// Every caller-facing write goes through ApplyOptimistic, which validates the
// change against the local snapshot, updates the snapshot and appends a Queued
// mutation in a single SQLite transaction. The sync scheduler then walks the
// log in seq order:
//
//	Queued -> InFlight -> Applied   (MarkApplied / MarkSuperseded)
//	                   -> Queued    (Requeue / Revert)
//	                   -> Failed    (MarkFailed, dead letter)
//
// Applied mutations move to the history table. Failed mutations stay in the
// log until an operator retries or dismisses them.
//
// All operations are serialized by one mutex and never touch the network.
package ledger
