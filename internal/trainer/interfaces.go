package trainer

import (
	"context"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/data"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/store"
)

// Model is the network being trained.
type Model interface {
	// Parameters returns copies of the model tensors.
	Parameters() []checkpoint.Tensor

	// LoadParameters replaces the model tensors. Returns a
	// checkpoint.ShapeMismatchError when shapes disagree.
	LoadParameters(ts []checkpoint.Tensor) error

	SetTraining(on bool)

	// Predict returns one row of class logits per input.
	Predict(inputs [][]float32) [][]float32
}

// StepIndex locates a step within the run.
type StepIndex struct {
	Epoch int
	Step  int
}

// StepResult is the outcome of one compute step.
type StepResult struct {
	Loss   float64
	Logits [][]float32

	// Stable is false when the loss-scaling factor decreased on this step
	// and the update was discarded.
	Stable bool
}

// Stepper runs forward, backward and the optimizer update for one batch.
type Stepper interface {
	Step(ctx context.Context, at StepIndex, batch data.Batch, opt reconfig.Optimizer, lr float64) (StepResult, error)
}

// Perturber transforms a training batch before the compute step.
type Perturber interface {
	Perturb(at StepIndex, batch data.Batch) data.Batch
}

// CheckpointStore persists checkpoints to named slots.
type CheckpointStore interface {
	Save(ctx context.Context, slot string, ckpt *checkpoint.Checkpoint) error
	Load(ctx context.Context, slot string) (*checkpoint.Checkpoint, error)
	Path(slot string) string
}

// Recorder is the run ledger. Implemented by *store.Store.
type Recorder interface {
	BeginRun(ctx context.Context, run store.Run) error
	RecordPhaseSwitch(ctx context.Context, ps store.PhaseSwitch) error
	RecordEpoch(ctx context.Context, rows []store.EpochMetric) error
	RecordCheckpoint(ctx context.Context, cw store.CheckpointWrite) error
	FinishRun(ctx context.Context, runID, status string, finalEpoch int, bestScore float64) error
}

// RunIDGenerator generates run identifiers.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type RunIDGenerator interface {
	Generate() string
}
