package harness

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/collective"
	"github.com/roach88/phasetrain/internal/optim"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/schedule"
	"github.com/roach88/phasetrain/internal/store"
	"github.com/roach88/phasetrain/internal/testutil"
	"github.com/roach88/phasetrain/internal/trainer"
)

// Harness executes the runs of one scenario. All runs share a checkpoint
// directory and a ledger.
type Harness struct {
	scenario   *Scenario
	dir        string
	store      *store.Store
	ckpts      *checkpoint.FileStore
	accounting reconfig.StepAccounting
	logger     *slog.Logger
}

// Run executes scenario in a fresh temporary directory.
//
// Execution flow:
// 1. Open a ledger and a checkpoint directory
// 2. Run each step with scripted models on in-process workers
// 3. Read the ledger back into a trace
// 4. Evaluate assertions
//
// A run that fails without expect_error, or succeeds with it, fails the
// result; it does not abort the remaining runs.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	acct, err := reconfig.ParseStepAccounting(scenario.StepAccounting)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "phasetrain-scenario-")
	if err != nil {
		return nil, fmt.Errorf("create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario:   scenario,
		dir:        dir,
		store:      st,
		ckpts:      checkpoint.NewFileStore(filepath.Join(dir, "model")),
		accounting: acct,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	for i, step := range scenario.Runs {
		err := h.executeRun(ctx, step)
		switch {
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("runs[%d] %s: unexpected error: %v", i, step.RunID, err))
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("runs[%d] %s: expected error containing %q, run succeeded", i, step.RunID, step.ExpectError))
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("runs[%d] %s: expected error containing %q, got: %v", i, step.RunID, step.ExpectError, err))
		}
	}

	if err := h.collectTrace(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) workers() int {
	return max(h.scenario.Workers, 1)
}

func (h *Harness) numClasses() int {
	if h.scenario.NumClasses > 0 {
		return h.scenario.NumClasses
	}
	return 10
}

func (h *Harness) executeRun(ctx context.Context, step RunStep) error {
	path := step.Phases
	if path == "" {
		path = h.scenario.Phases
	}
	sched, err := schedule.Load(path)
	if err != nil {
		return err
	}

	unstable := make(map[trainer.StepIndex]bool, len(step.Unstable))
	for _, p := range step.Unstable {
		unstable[trainer.StepIndex{Epoch: p.Epoch, Step: p.Step}] = true
	}

	return collective.Launch(ctx, h.workers(), func(ctx context.Context, comm collective.Collective) error {
		model := testutil.NewFakeModel(h.numClasses(), h.scenario.ValSize, step.Scores...)
		stepper := testutil.NewScriptedStepper(model)
		stepper.Unstable = func(at trainer.StepIndex) bool { return unstable[at] }

		o, err := trainer.New(trainer.Config{
			Schedule: sched,
			Model:    model,
			Stepper:  stepper,
			Datasets: &testutil.FakeDatasets{
				TrainSize:  h.scenario.TrainSize,
				ValSize:    h.scenario.ValSize,
				NumClasses: h.numClasses(),
			},
			Optimizers:      optim.Builder{Momentum: 0.9},
			Checkpoints:     h.ckpts,
			Comm:            comm,
			Recorder:        h.store,
			Logger:          h.logger,
			RunIDs:          testutil.NewConstantRunID(step.RunID),
			Accounting:      h.accounting,
			CheckpointEvery: step.CheckpointEvery,
			Resume:          step.Resume,
			ResumeSlot:      step.ResumeName,
			SaveName:        step.SaveName,
			ResultDir:       h.dir,
			RunConfig:       map[string]any{"scenario": h.scenario.Name, "workers": h.workers()},
		})
		if err != nil {
			return err
		}

		if stop := step.StopAt; stop != nil && stop.Rank == comm.Rank() {
			target := trainer.StepIndex{Epoch: stop.Epoch, Step: stop.Step}
			stepper.OnStep = func(at trainer.StepIndex) {
				if at == target {
					o.RequestStop()
				}
			}
		}

		_, err = o.Run(ctx)
		return err
	})
}

type keyedEvent struct {
	key  int
	typ  string
	args map[string]any
}

// collectTrace appends every run's ledger records to result. Within a run a
// phase switch at epoch e sorts before training epoch e, and a checkpoint
// storing next epoch c sorts after training epoch c-1.
func (h *Harness) collectTrace(ctx context.Context, result *Result) error {
	runs, err := h.store.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		result.addEvent(EventRunBegin, run.ID, map[string]any{
			"start_epoch":  run.StartEpoch,
			"resumed_from": run.ResumedFrom,
			"world_size":   run.WorldSize,
		})

		var events []keyedEvent
		switches, err := h.store.PhaseSwitches(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, ps := range switches {
			events = append(events, keyedEvent{key: 2 * ps.Epoch, typ: EventPhaseSwitch, args: map[string]any{
				"epoch":              ps.Epoch,
				"phase_id":           ps.PhaseID,
				"phase_name":         ps.PhaseName,
				"rebuild_dataset":    ps.RebuildDataset,
				"rebuild_optimizer":  ps.RebuildOptimizer,
				"resume":             ps.Resume,
				"steps_per_epoch":    ps.StepsPerEpoch,
				"total_steps":        ps.TotalSteps,
				"scheduler_position": ps.SchedulerPosition,
			}})
		}

		writes, err := h.store.CheckpointWrites(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, cw := range writes {
			slot := cw.Slot
			if slot == checkpoint.SlotLatest {
				slot = "latest"
			}
			events = append(events, keyedEvent{key: 2*cw.Epoch - 1, typ: EventCheckpoint, args: map[string]any{
				"slot":  slot,
				"epoch": cw.Epoch,
				"score": cw.Score,
			}})
		}

		slices.SortStableFunc(events, func(a, b keyedEvent) int { return cmp.Compare(a.key, b.key) })
		for _, e := range events {
			result.addEvent(e.typ, run.ID, e.args)
		}

		result.addEvent(EventRunEnd, run.ID, map[string]any{
			"status":      run.Status,
			"final_epoch": run.FinalEpoch,
			"best_score":  run.BestScore,
		})
	}
	return nil
}
