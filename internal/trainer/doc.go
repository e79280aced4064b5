// Package trainer runs the phase-scheduled training loop.
//
// The Orchestrator is a state machine over epochs:
//
//	Initializing -> TrainingEpoch -> Validating -> Checkpointing -> ... -> Done
//
// Initializing restores a checkpoint (or cold-starts) and waits on a group
// barrier. Each epoch asks reconfig.Plan what to rebuild, applies it through
// the single reconfig.Controller path, trains, validates, and possibly writes
// a checkpoint. Done persists the per-epoch results and a final checkpoint.
//
// Every worker runs its own Orchestrator with its own Collective handle.
// Metric synchronization and the stop decision are collectives, so all
// workers must call Run together. Persistent writes (checkpoints, the result
// file, the ledger) happen only on the primary worker.
//
// Forward, backward and the optimizer update are delegated to a Stepper. The
// scheduler advances only on steps the Stepper reports as stable.
package trainer
