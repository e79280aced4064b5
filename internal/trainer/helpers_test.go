package trainer_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/optim"
	"github.com/roach88/phasetrain/internal/schedule"
	"github.com/roach88/phasetrain/internal/store"
	"github.com/roach88/phasetrain/internal/testutil"
	"github.com/roach88/phasetrain/internal/trainer"
)

const numClasses = 10

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustSchedule(t *testing.T, phases ...schedule.Phase) *schedule.Schedule {
	t.Helper()
	s, err := schedule.New(phases)
	require.NoError(t, err)
	return s
}

func phase(name string, start, end, batch int, kind string, lr, lrEnd float64) schedule.Phase {
	return schedule.Phase{
		Name: name, StartEpoch: start, EndEpoch: end,
		DataSize: 16, CropSize: 12, BatchSize: batch,
		LRScheduler: kind, LR: lr, LREnd: lrEnd,
	}
}

// rig is one worker's set of collaborators.
type rig struct {
	model    *testutil.FakeModel
	stepper  *testutil.ScriptedStepper
	datasets *testutil.FakeDatasets
	ckpts    *checkpoint.FileStore
	cfg      trainer.Config
}

func newRig(t *testing.T, sched *schedule.Schedule, dir string, trainSize, valSize int, scores ...float64) *rig {
	t.Helper()
	model := testutil.NewFakeModel(numClasses, valSize, scores...)
	stepper := testutil.NewScriptedStepper(model)
	datasets := &testutil.FakeDatasets{TrainSize: trainSize, ValSize: valSize, NumClasses: numClasses}
	ckpts := checkpoint.NewFileStore(filepath.Join(dir, "ckpt"))
	return &rig{
		model:    model,
		stepper:  stepper,
		datasets: datasets,
		ckpts:    ckpts,
		cfg: trainer.Config{
			Schedule:    sched,
			Model:       model,
			Stepper:     stepper,
			Datasets:    datasets,
			Optimizers:  optim.Builder{Momentum: 0.9},
			Checkpoints: ckpts,
			Logger:      quietLogger(),
			RunIDs:      testutil.NewConstantRunID("run-test"),
			ResultDir:   filepath.Join(dir, "results"),
		},
	}
}

func (r *rig) orchestrator(t *testing.T) *trainer.Orchestrator {
	t.Helper()
	o, err := trainer.New(r.cfg)
	require.NoError(t, err)
	return o
}

func openLedger(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
