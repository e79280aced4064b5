// Package schedule models the declarative phase schedule that drives
// resource reconfiguration over the course of a training run.
//
// A schedule is an ordered list of phases. Each phase covers a half-open
// epoch range [StartEpoch, EndEpoch) and carries the data resolution, crop
// size, batch size and learning-rate policy used while it is active.
//
// INVARIANTS (checked once by New, immutable afterwards):
//   - phases are sorted by StartEpoch and the first starts at epoch 0
//   - StartEpoch < EndEpoch for every phase
//   - EndEpoch[i] == StartEpoch[i+1] (contiguous, non-overlapping)
//
// Every epoch in [0, TotalEpochs()) therefore belongs to exactly one phase.
// A malformed schedule is a fatal startup error: it must be rejected before
// any worker enters a collective operation, otherwise workers could diverge
// mid-run.
package schedule
