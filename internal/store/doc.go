// Package store provides SQLite-backed durable storage for the Local Ledger.
//
// The store holds:
//   - Entities: the cached snapshot of products, customers and receipts
//   - Mutations: the ordered log of pending and dead-lettered writes
//   - Mutation history: mutations that left the active log, with their outcome
//   - Sync meta: small key/value facts such as the last successful sync time
//
// # Ordering
//
// mutations.seq is an AUTOINCREMENT key: it is strictly increasing and never
// reused, even after rows are deleted. It is the application-order contract;
// every log query orders by seq ASC.
//
// # Ownership
//
// Only internal/ledger opens a Store. Every other component goes through the
// ledger's contract.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: A queued sale survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - _txlock=immediate: Write transactions take the lock up front, so the
//     daemon and one-shot CLI commands serialize on the same file
package store
