package reconfig

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/phasetrain/internal/data"
)

// DatasetBuilder constructs the dataset pipeline of a phase.
type DatasetBuilder interface {
	BuildDataset(ctx context.Context, spec data.Spec) (data.Pipeline, error)
}

// OptimizerSpec is the learning-rate policy and horizon of a phase.
type OptimizerSpec struct {
	Kind       string
	LR         float64
	LREnd      float64
	TotalSteps int
}

// Optimizer applies gradient updates and exposes its internal state for
// checkpointing.
type Optimizer interface {
	Apply(params, grads [][]float32, lr float64) error
	State() ([]byte, error)
	LoadState(state []byte) error
}

// LRScheduler is a step-indexed learning-rate policy.
type LRScheduler interface {
	CurrentLR() float64
	Advance()
	Position() int
	SetPosition(step int)
}

// OptimizerBuilder constructs an optimizer and its scheduler.
type OptimizerBuilder interface {
	BuildOptimizer(ctx context.Context, spec OptimizerSpec) (Optimizer, LRScheduler, error)
}

// Components are the rebuildable collaborators of the training loop.
type Components struct {
	Pipeline  data.Pipeline
	Optimizer Optimizer
	Scheduler LRScheduler
}

// Controller applies decisions. It is the only code path that rebuilds the
// dataset pipeline or the optimizer.
type Controller struct {
	datasets   DatasetBuilder
	optimizers OptimizerBuilder
	accounting StepAccounting
	rank       int
	worldSize  int
	logger     *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithStepAccounting selects the resume position rule. Default CountAllSteps.
func WithStepAccounting(a StepAccounting) ControllerOption {
	return func(c *Controller) { c.accounting = a }
}

// WithShard sets the worker's rank and the group size passed to the dataset
// builder. Default 0 of 1.
func WithShard(rank, worldSize int) ControllerOption {
	return func(c *Controller) {
		c.rank = rank
		c.worldSize = worldSize
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller.
func NewController(datasets DatasetBuilder, optimizers OptimizerBuilder, opts ...ControllerOption) *Controller {
	c := &Controller{
		datasets:   datasets,
		optimizers: optimizers,
		worldSize:  1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Accounting returns the configured step accounting.
func (c *Controller) Accounting() StepAccounting { return c.accounting }

// Apply performs d against st and cur, returning the updated components.
// Components that d does not rebuild are carried over from cur.
//
// On an optimizer rebuild, SkippedInPhase is reset unless d is a resume, in
// which case st carries the value restored from the checkpoint.
func (c *Controller) Apply(ctx context.Context, d Decision, st *RunState, cur Components) (Components, error) {
	if d.None() {
		return cur, nil
	}

	next := cur
	phase := d.Phase
	c.logger.Info("switching phase",
		"epoch", d.Epoch,
		"phase", phase.ID,
		"name", phase.Name,
		"info", phase.String(),
		"resume", d.Resume)

	if d.RebuildDataset {
		p, err := c.datasets.BuildDataset(ctx, data.Spec{
			DataSize:  phase.DataSize,
			CropSize:  phase.CropSize,
			BatchSize: phase.BatchSize,
			Rank:      c.rank,
			WorldSize: c.worldSize,
		})
		if err != nil {
			return cur, fmt.Errorf("build dataset for %s: %w", phase.Name, err)
		}
		next.Pipeline = p
		st.StepsPerEpoch = p.StepsPerEpoch()
		c.logger.Debug("dataset initialized", "steps_per_epoch", st.StepsPerEpoch)
	}

	if next.Pipeline == nil {
		return cur, fmt.Errorf("reconfigure %s: no dataset pipeline", phase.Name)
	}

	st.Phase = phase
	if d.RebuildOptimizer {
		st.Hyper = Hyper{Kind: phase.LRScheduler, LR: phase.LR, LREnd: phase.LREnd}
		st.TotalStepsInPhase = phase.Epochs() * st.StepsPerEpoch
		if !d.Resume {
			st.SkippedInPhase = 0
		}

		opt, sched, err := c.optimizers.BuildOptimizer(ctx, OptimizerSpec{
			Kind:       phase.LRScheduler,
			LR:         phase.LR,
			LREnd:      phase.LREnd,
			TotalSteps: st.TotalStepsInPhase,
		})
		if err != nil {
			return cur, fmt.Errorf("build optimizer for %s: %w", phase.Name, err)
		}
		sched.SetPosition(ResumePosition(phase, d.Epoch, st.StepsPerEpoch, st.SkippedInPhase, c.accounting))
		next.Optimizer = opt
		next.Scheduler = sched
	}

	return next, nil
}
