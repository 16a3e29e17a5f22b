// Package harness runs sync scenarios against the real ledger, scheduler,
// conflict resolver and freshness gate, with an in-memory remote and a
// manual clock standing in for the outside world.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	policy: defer            # oversell policy: reject, defer, allow
//	online: true             # initial connectivity
//	settle: 100ms            # settle window for the background scheduler
//	max_attempts: 4
//	remote:
//	  - collection: stock
//	    id: tea
//	    data: { item_id: tea, quantity: 3, track_stock: true }
//	steps:
//	  - action: pull
//	    args: { collection: stock, id: tea }
//	  - action: stock
//	    args: { item_id: tea, delta: -2 }
//	    expect:
//	      result: { quantity: 1 }
//	assertions:
//	  - type: entity
//	    collection: stock
//	    id: tea
//	    fields: { quantity: 1 }
//
// Every file is checked against an embedded CUE schema before it is decoded,
// so a misspelled action or a missing argument is reported with its path.
//
// # Actions
//
// Terminal operations: pull, read, stock, customer, sale,
// retry_dead_letter, dismiss_dead_letter.
//
// The outside world: remote_put (another client writes), remote_fail (the
// next N requests fail transiently), remote_down, connectivity, flap (a
// burst of connectivity changes), advance (move the clock).
//
// Sync: drain runs one pass in the foreground. start runs the scheduler loop
// in the background, wait blocks until it has emptied the queue and stop
// ends it. crash_in_flight leaves the queue head InFlight and restart
// reopens the ledger, as a killed and relaunched process would.
//
// # Assertion Types
//
//   - entity: a cached snapshot's fields and inconsistent flag
//   - remote: a document in the remote
//   - status: final pending and failed counts
//   - mutation: a mutation's status, or its outcome once archived
//   - sync_count: how often a scheduler event occurred
//   - remote_calls: how many requests reached the remote
//
// # Deterministic Testing
//
// Mutation ids are sequential (m-0001, m-0002, ...) and every component
// reads the same manual clock starting at testutil.Epoch. Backoff waits are
// real millisecond sleeps; they never change what is delivered, only when.
//
// A step's trace line is written before the step runs, so scheduler events
// it causes always follow it. This keeps golden files stable even when the
// scheduler runs in the background.
package harness
