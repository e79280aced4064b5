// Package store provides the SQLite-backed run ledger.
//
// The ledger records, per run:
//   - Runs: run identity, schedule hash, configuration and final status
//   - Phase switches: every reconfiguration the controller applied
//   - Epoch metrics: per-split, per-epoch meter summaries
//   - Checkpoint writes: every slot written and the score it carried
//
// # Ordering
//
// All reads return rows in a deterministic order. Runs and checkpoint writes
// are ordered by an insertion sequence, never by wall-clock time. Metrics are
// ordered by epoch and then by name COLLATE BINARY.
//
// # Idempotency
//
// Phase switches and epoch metrics are keyed by (run, epoch[, split, name])
// and written with ON CONFLICT DO NOTHING, so replaying a write after a crash
// is harmless.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
