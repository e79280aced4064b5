package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/collective"
	"github.com/roach88/phasetrain/internal/metrics"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/schedule"
	"github.com/roach88/phasetrain/internal/store"
)

// Config wires an Orchestrator. Schedule, Model, Stepper, Datasets,
// Optimizers and Checkpoints are required.
type Config struct {
	Schedule    *schedule.Schedule
	Model       Model
	Stepper     Stepper
	Perturber   Perturber
	Datasets    reconfig.DatasetBuilder
	Optimizers  reconfig.OptimizerBuilder
	Checkpoints CheckpointStore

	// Comm defaults to collective.Solo().
	Comm collective.Collective

	// Recorder and Exporter are optional and only used on the primary worker.
	Recorder Recorder
	Exporter *metrics.Exporter

	Logger     *slog.Logger
	RunIDs     RunIDGenerator
	Accounting reconfig.StepAccounting

	// PrintEvery logs a step line every N steps (step 0 excluded). 0 disables.
	PrintEvery int

	// CheckpointEvery writes the latest slot every N epochs. 0 disables.
	CheckpointEvery int

	Resume     bool
	ResumeSlot string

	// SaveName names the result file and final checkpoint slot.
	// Defaults to "epoch_<next epoch, 3 digits>": the total epoch count for a
	// completed run, the epoch it would continue from for a stopped one.
	SaveName  string
	ResultDir string

	// RunConfig is stored with the run in the ledger.
	RunConfig map[string]any
}

// Orchestrator drives one worker through the training run.
type Orchestrator struct {
	cfg        Config
	sched      *schedule.Schedule
	comm       collective.Collective
	primary    bool
	logger     *slog.Logger
	controller *reconfig.Controller

	state atomic.Int32
	stop  atomic.Bool

	st        reconfig.RunState
	comps     reconfig.Components
	train     *metrics.Aggregator
	timing    *metrics.Aggregator
	val       *metrics.Aggregator
	results   *Results
	runID     string
	resumedAt int
	saveSlot  string

	// Phase switches applied before the run row exists.
	begun   bool
	pending []store.PhaseSwitch
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Schedule == nil:
		return nil, errors.New("trainer: schedule is required")
	case cfg.Model == nil:
		return nil, errors.New("trainer: model is required")
	case cfg.Stepper == nil:
		return nil, errors.New("trainer: stepper is required")
	case cfg.Datasets == nil || cfg.Optimizers == nil:
		return nil, errors.New("trainer: dataset and optimizer builders are required")
	case cfg.Checkpoints == nil:
		return nil, errors.New("trainer: checkpoint store is required")
	}
	if cfg.Comm == nil {
		cfg.Comm = collective.Solo()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RunIDs == nil {
		cfg.RunIDs = UUIDv7Generator{}
	}
	if cfg.ResumeSlot == "" {
		cfg.ResumeSlot = checkpoint.SlotBest
	}

	logger := cfg.Logger.With("rank", cfg.Comm.Rank())
	o := &Orchestrator{
		cfg:     cfg,
		sched:   cfg.Schedule,
		comm:    cfg.Comm,
		primary: collective.IsPrimary(cfg.Comm),
		logger:  logger,
		controller: reconfig.NewController(cfg.Datasets, cfg.Optimizers,
			reconfig.WithStepAccounting(cfg.Accounting),
			reconfig.WithShard(cfg.Comm.Rank(), cfg.Comm.WorldSize()),
			reconfig.WithLogger(logger)),
		train:     metrics.NewAggregator(cfg.Comm),
		timing:    metrics.NewAggregator(cfg.Comm),
		val:       metrics.NewAggregator(cfg.Comm),
		results:   NewResults(),
		resumedAt: -1,
	}
	return o, nil
}

// State returns the current state. Safe from any goroutine.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// SaveSlot returns the slot of the final checkpoint, which also names the
// result file. Empty until a run has written them, and after a resume that
// found no epochs left to run.
func (o *Orchestrator) SaveSlot() string { return o.saveSlot }

// RunID returns the run ID. Empty on non-primary workers.
func (o *Orchestrator) RunID() string { return o.runID }

// BestScore returns the best validation score so far.
func (o *Orchestrator) BestScore() float64 { return o.st.BestScore }

// RequestStop asks the run to stop after the current epoch. Safe from any
// goroutine. Every worker stops at the same epoch as long as at least one of
// them received the request.
func (o *Orchestrator) RequestStop() {
	o.stop.Store(true)
}

func (o *Orchestrator) setState(s State) {
	if State(o.state.Swap(int32(s))) != s {
		o.logger.Debug("state", "state", s.String())
	}
}

// Run executes the training loop and returns the per-epoch results.
func (o *Orchestrator) Run(ctx context.Context) (*Results, error) {
	o.setState(StateInitializing)
	start, err := o.initialize(ctx)
	if err != nil {
		o.finishRun(ctx, store.StatusFailed, start)
		return nil, err
	}

	total := o.sched.TotalEpochs()
	status := store.StatusCompleted
	epoch := start
	if start >= total {
		// The checkpoint already covers the schedule. The result file and
		// final slot of the earlier run stay as they are.
		if o.primary {
			o.logger.Info("no epochs left to run, keeping existing results",
				"start_epoch", start, "total_epochs", total)
		}
		o.setState(StateDone)
		o.finishRun(ctx, status, start)
		return o.results, nil
	}
	for epoch < total {
		if err := o.runEpoch(ctx, epoch); err != nil {
			o.finishRun(ctx, store.StatusFailed, epoch)
			return nil, err
		}
		epoch++

		stop, err := collective.AnyTrue(ctx, o.comm, o.stop.Load())
		if err != nil {
			o.finishRun(ctx, store.StatusFailed, epoch)
			return nil, fmt.Errorf("stop vote: %w", err)
		}
		if stop && epoch < total {
			status = store.StatusStopped
			if o.primary {
				o.logger.Info("stop requested", "next_epoch", epoch)
			}
			break
		}
	}

	o.setState(StateDone)
	if err := o.done(ctx, epoch, status == store.StatusStopped); err != nil {
		o.finishRun(ctx, store.StatusFailed, epoch)
		return nil, err
	}
	o.finishRun(ctx, status, epoch)
	return o.results, nil
}

func (o *Orchestrator) runEpoch(ctx context.Context, epoch int) error {
	if epoch != o.resumedAt {
		d, err := reconfig.Plan(o.sched, epoch)
		if err != nil {
			return fmt.Errorf("plan epoch %d: %w", epoch, err)
		}
		if err := o.apply(ctx, d); err != nil {
			return err
		}
	}
	o.st.Epoch = epoch

	o.setState(StateTrainingEpoch)
	if err := o.trainEpoch(ctx, epoch); err != nil {
		return err
	}

	o.setState(StateValidating)
	score, err := o.validate(ctx, epoch)
	if err != nil {
		return err
	}

	o.setState(StateCheckpointing)
	return o.checkpointEpoch(ctx, epoch, score)
}

// initialize restores from a checkpoint when asked and returns the first
// epoch to run.
func (o *Orchestrator) initialize(ctx context.Context) (int, error) {
	var resumedFrom string
	start := 0

	if o.cfg.Resume {
		slot := o.cfg.ResumeSlot
		o.logger.Info("trying to load checkpoint", "path", o.cfg.Checkpoints.Path(slot))
		ckpt, err := o.cfg.Checkpoints.Load(ctx, slot)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			o.logger.Info("checkpoint not found, starting from epoch 0")
		case err != nil:
			return 0, fmt.Errorf("resume: %w", err)
		default:
			if err := o.restore(ctx, ckpt); err != nil {
				return 0, fmt.Errorf("resume: %w", err)
			}
			start = ckpt.Epoch
			resumedFrom = ckpt.RunID
		}
	}

	if o.primary {
		o.runID = o.cfg.RunIDs.Generate()
		o.beginRun(ctx, start, resumedFrom)
	}

	if err := o.comm.Barrier(ctx); err != nil {
		return start, fmt.Errorf("setup barrier: %w", err)
	}
	return start, nil
}

// restore loads weights and rebuilds the components of the phase active at
// the checkpoint epoch as if the run had reached it normally.
func (o *Orchestrator) restore(ctx context.Context, ckpt *checkpoint.Checkpoint) error {
	if err := o.cfg.Model.LoadParameters(ckpt.Model); err != nil {
		return err
	}
	o.st.BestScore = ckpt.BestScore
	o.logger.Info("loading finished", "epoch", ckpt.Epoch, "best_score", ckpt.BestScore)

	if ckpt.ScheduleHash != "" && ckpt.ScheduleHash != o.sched.Hash() {
		o.logger.Warn("schedule changed since checkpoint was written",
			"checkpoint_hash", ckpt.ScheduleHash, "schedule_hash", o.sched.Hash())
	}

	if ckpt.Epoch >= o.sched.TotalEpochs() {
		return nil
	}
	if ckpt.Epoch < 0 {
		return fmt.Errorf("%w: negative epoch %d", checkpoint.ErrCorrupt, ckpt.Epoch)
	}

	d, err := reconfig.PlanResume(o.sched, ckpt.Epoch)
	if err != nil {
		return err
	}
	// Skips recorded before a phase boundary belong to the previous phase.
	atPhaseStart := ckpt.Epoch == d.Phase.StartEpoch
	if !atPhaseStart {
		o.st.SkippedInPhase = ckpt.SkippedInPhase
	}
	if err := o.apply(ctx, d); err != nil {
		return err
	}
	if !atPhaseStart && len(ckpt.OptimizerState) > 0 {
		if err := o.comps.Optimizer.LoadState(ckpt.OptimizerState); err != nil {
			return fmt.Errorf("restore optimizer state: %w", err)
		}
	}
	o.resumedAt = ckpt.Epoch
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, d reconfig.Decision) error {
	if d.None() {
		return nil
	}
	comps, err := o.controller.Apply(ctx, d, &o.st, o.comps)
	if err != nil {
		return err
	}
	o.comps = comps

	if !o.primary {
		return nil
	}
	o.cfg.Exporter.PhaseSwitched()
	ps := store.PhaseSwitch{
		Epoch:             d.Epoch,
		PhaseID:           d.Phase.ID,
		PhaseName:         d.Phase.Name,
		RebuildDataset:    d.RebuildDataset,
		RebuildOptimizer:  d.RebuildOptimizer,
		Resume:            d.Resume,
		StepsPerEpoch:     o.st.StepsPerEpoch,
		TotalSteps:        o.st.TotalStepsInPhase,
		SchedulerPosition: o.comps.Scheduler.Position(),
	}
	if !o.begun {
		o.pending = append(o.pending, ps)
		return nil
	}
	o.recordPhaseSwitch(ctx, ps)
	return nil
}

func (o *Orchestrator) recordPhaseSwitch(ctx context.Context, ps store.PhaseSwitch) {
	ps.RunID = o.runID
	o.record("phase switch", func() error {
		return o.cfg.Recorder.RecordPhaseSwitch(ctx, ps)
	})
}

func (o *Orchestrator) trainEpoch(ctx context.Context, epoch int) error {
	o.cfg.Model.SetTraining(true)
	o.train.Reset()
	o.timing.Reset()

	stream := o.comps.Pipeline.Train(epoch)
	spe := o.st.StepsPerEpoch
	skipped := 0
	began := time.Now()
	last := began

	for step := 0; ; step++ {
		batch, ok := stream.Next()
		if !ok {
			break
		}
		dataTime := time.Since(last).Seconds()

		at := StepIndex{Epoch: epoch, Step: step}
		if o.cfg.Perturber != nil {
			batch = o.cfg.Perturber.Perturb(at, batch)
		}

		lr := o.comps.Scheduler.CurrentLR()
		res, err := o.cfg.Stepper.Step(ctx, at, batch, o.comps.Optimizer, lr)
		if err != nil {
			return fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
		}
		if res.Stable {
			o.comps.Scheduler.Advance()
		} else {
			o.st.SkippedInPhase++
			skipped++
			o.logger.Debug("unstable step, scheduler not advanced", "epoch", epoch, "step", step)
		}

		// A discarded step may report a non-finite loss. It still updates
		// every meter with zero weight so all workers sync the same set.
		n, loss, top1, top5 := 0.0, 0.0, 0.0, 0.0
		if res.Stable {
			n = float64(batch.Len())
			loss = res.Loss
			top1 = metrics.TopK(res.Logits, batch.Labels, 1)
			top5 = metrics.TopK(res.Logits, batch.Labels, 5)
		}
		o.train.Update("loss", loss, n)
		o.train.Update("top1", top1, n)
		o.train.Update("top5", top5, n)
		o.train.Update("lr", lr, 1)
		if err := o.train.Sync(ctx); err != nil {
			return fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
		}

		o.timing.Update("iter_time", time.Since(last).Seconds(), 1)
		o.timing.Update("data_time", dataTime, 1)
		if err := o.timing.Sync(ctx); err != nil {
			return fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
		}
		last = time.Now()

		if o.primary && o.cfg.PrintEvery > 0 && step != 0 && step%o.cfg.PrintEvery == 0 {
			attrs := []any{
				"epoch", epoch, "step", step, "steps", spe,
				"progress", fmt.Sprintf("%.4f", o.st.Progress(o.comps.Scheduler.Position())),
			}
			attrs = append(attrs, o.train.Format()...)
			attrs = append(attrs, o.timing.Format()...)
			o.logger.Info("train step", attrs...)
		}
	}

	summaries := o.train.Snapshot()
	o.results.Record(SplitTrain, epoch, summaries)
	if !o.primary {
		return nil
	}

	attrs := []any{"epoch", epoch, "of", o.sched.TotalEpochs(), "skipped", skipped,
		"elapsed", time.Since(began).Round(time.Millisecond)}
	o.logger.Info("train epoch", append(attrs, o.train.Format()...)...)

	o.cfg.Exporter.ObserveEpoch(SplitTrain, epoch, summaries)
	o.cfg.Exporter.UnstableSteps(skipped)
	o.cfg.Exporter.ObserveState(o.st.Phase.ID, o.comps.Scheduler.CurrentLR(), o.st.BestScore)
	o.recordEpoch(ctx, SplitTrain, epoch, summaries)
	return nil
}

// validate runs the held-out pass and returns the group-wide top-1 average.
func (o *Orchestrator) validate(ctx context.Context, epoch int) (float64, error) {
	began := time.Now()
	o.cfg.Model.SetTraining(false)
	defer o.cfg.Model.SetTraining(true)

	o.val.Reset()
	stream := o.comps.Pipeline.Validation()
	for {
		batch, ok := stream.Next()
		if !ok {
			break
		}
		logits := o.cfg.Model.Predict(batch.Inputs)
		n := float64(batch.Len())
		o.val.Update("top1", metrics.TopK(logits, batch.Labels, 1), n)
		o.val.Update("top5", metrics.TopK(logits, batch.Labels, 5), n)
		if err := o.val.Sync(ctx); err != nil {
			return 0, fmt.Errorf("validate epoch %d: %w", epoch, err)
		}
	}

	score := o.val.GlobalAvg("top1")
	summaries := o.val.Snapshot()
	o.results.Record(SplitTest, epoch, summaries)

	if o.primary {
		attrs := []any{"epoch", epoch, "elapsed", time.Since(began).Round(time.Millisecond)}
		o.logger.Info("validate", append(attrs, o.val.Format()...)...)
		o.cfg.Exporter.ObserveEpoch(SplitTest, epoch, summaries)
		o.recordEpoch(ctx, SplitTest, epoch, summaries)
	}
	return score, nil
}

func (o *Orchestrator) checkpointEpoch(ctx context.Context, epoch int, score float64) error {
	if score > o.st.BestScore {
		o.st.BestScore = score
		if o.primary {
			o.logger.Info("new best", "epoch", epoch, "score", score)
			if err := o.save(ctx, checkpoint.SlotBest, epoch+1); err != nil {
				return err
			}
		}
	}

	every := o.cfg.CheckpointEvery
	if o.primary && every > 0 && (epoch+1)%every == 0 {
		if err := o.save(ctx, checkpoint.SlotLatest, epoch+1); err != nil {
			return err
		}
	}
	return nil
}

// done persists the results and the final checkpoint. next is the next
// epoch that would run.
func (o *Orchestrator) done(ctx context.Context, next int, stopped bool) error {
	slot := o.cfg.SaveName
	if slot == "" {
		slot = checkpoint.EpochSlot(o.sched.TotalEpochs())
		if stopped {
			slot = checkpoint.EpochSlot(next)
		}
	}
	if !o.primary {
		return nil
	}
	path, err := o.results.WriteFile(o.cfg.ResultDir, slot)
	if err != nil {
		return err
	}
	o.logger.Info("results written", "path", path)
	if err := o.save(ctx, slot, next); err != nil {
		return err
	}
	o.saveSlot = slot
	return nil
}

func (o *Orchestrator) save(ctx context.Context, slot string, epoch int) error {
	ckpt := &checkpoint.Checkpoint{
		Epoch:          epoch,
		BestScore:      o.st.BestScore,
		Model:          o.cfg.Model.Parameters(),
		SkippedInPhase: o.st.SkippedInPhase,
		RunID:          o.runID,
		ScheduleHash:   o.sched.Hash(),
	}
	if o.comps.Optimizer != nil {
		state, err := o.comps.Optimizer.State()
		if err != nil {
			return fmt.Errorf("optimizer state: %w", err)
		}
		ckpt.OptimizerState = state
	}

	if err := o.cfg.Checkpoints.Save(ctx, slot, ckpt); err != nil {
		return fmt.Errorf("save checkpoint %q: %w", slot, err)
	}
	path := o.cfg.Checkpoints.Path(slot)
	o.logger.Info("checkpoint saved", "slot", slot, "epoch", epoch, "path", path)

	label := slot
	if label == checkpoint.SlotLatest {
		label = "latest"
	}
	o.cfg.Exporter.CheckpointWritten(label)
	o.record("checkpoint", func() error {
		return o.cfg.Recorder.RecordCheckpoint(ctx, store.CheckpointWrite{
			RunID: o.runID, Slot: slot, Epoch: epoch, Score: o.st.BestScore, Path: path,
		})
	})
	return nil
}

func (o *Orchestrator) beginRun(ctx context.Context, start int, resumedFrom string) {
	o.record("begin run", func() error {
		cfg, err := store.MarshalConfig(o.cfg.RunConfig)
		if err != nil {
			return err
		}
		return o.cfg.Recorder.BeginRun(ctx, store.Run{
			ID:           o.runID,
			ScheduleHash: o.sched.Hash(),
			Config:       cfg,
			ResumedFrom:  resumedFrom,
			StartEpoch:   start,
			WorldSize:    o.comm.WorldSize(),
			BestScore:    o.st.BestScore,
		})
	})

	o.begun = true
	for _, ps := range o.pending {
		o.recordPhaseSwitch(ctx, ps)
	}
	o.pending = nil
}

func (o *Orchestrator) recordEpoch(ctx context.Context, split string, epoch int, summaries map[string]metrics.Summary) {
	o.record("epoch metrics", func() error {
		rows := make([]store.EpochMetric, 0, len(summaries))
		for name, s := range summaries {
			rows = append(rows, store.EpochMetric{
				RunID: o.runID, Split: split, Epoch: epoch, Name: name,
				Sum: s.Sum, Weight: s.Weight, Avg: s.Avg,
			})
		}
		return o.cfg.Recorder.RecordEpoch(ctx, rows)
	})
}

func (o *Orchestrator) finishRun(ctx context.Context, status string, epoch int) {
	if !o.primary || o.runID == "" {
		return
	}
	// The run context may already be cancelled; the ledger row should still
	// be closed.
	ctx = context.WithoutCancel(ctx)
	o.record("finish run", func() error {
		return o.cfg.Recorder.FinishRun(ctx, o.runID, status, epoch, o.st.BestScore)
	})
}

// record runs a ledger write. Ledger failures are logged and never stop
// training.
func (o *Orchestrator) record(what string, fn func() error) {
	if o.cfg.Recorder == nil || !o.primary {
		return
	}
	if err := fn(); err != nil {
		o.logger.Warn("ledger write failed", "what", what, "error", err)
	}
}
