package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrain/internal/optim"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/schedule"
	"github.com/roach88/phasetrain/internal/synthetic"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	TrainSize      int
	Workers        int
	ResumeAt       int
	Skipped        int
	StepAccounting string
}

// PlanEntry is the reconfiguration and scheduler state at the start of one
// epoch.
type PlanEntry struct {
	Epoch             int     `json:"epoch"`
	PhaseID           int     `json:"phase_id"`
	Phase             string  `json:"phase"`
	Action            string  `json:"action"`
	RebuildDataset    bool    `json:"rebuild_dataset"`
	RebuildOptimizer  bool    `json:"rebuild_optimizer"`
	StepsPerEpoch     int     `json:"steps_per_epoch"`
	TotalSteps        int     `json:"total_steps"`
	SchedulerPosition int     `json:"scheduler_position"`
	LR                float64 `json:"lr"`
}

// PlanResult is the epoch-by-epoch plan of a schedule.
type PlanResult struct {
	ScheduleHash string      `json:"schedule_hash"`
	Accounting   string      `json:"step_accounting"`
	Entries      []PlanEntry `json:"entries"`
}

func (r PlanResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-3s %-12s %-10s %-5s %-6s %-8s %-6s %s\n",
		"EPOCH", "ID", "PHASE", "ACTION", "STEPS", "TOTAL", "POSITION", "DATA", "LR")
	for _, e := range r.Entries {
		data := "-"
		if e.RebuildDataset {
			data = "rebuild"
		}
		fmt.Fprintf(&b, "%-5d %-3d %-12s %-10s %-5d %-6d %-8d %-6s %.6g\n",
			e.Epoch, e.PhaseID, e.Phase, e.Action, e.StepsPerEpoch, e.TotalSteps,
			e.SchedulerPosition, data, e.LR)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <phases>",
		Short: "Print the per-epoch reconfiguration plan",
		Long: `Dry-run the reconfiguration controller over a schedule.

For every epoch the plan shows whether the dataset and optimizer are rebuilt,
the steps per epoch, and the scheduler position and learning rate at the start
of the epoch, assuming every step is applied. With --resume-at the plan starts
from a checkpoint at that epoch, as a resumed run would.

Examples:
  phasetrain plan phases.yaml
  phasetrain plan phases.yaml --train-size 50000 --workers 8
  phasetrain plan phases.yaml --resume-at 7 --skipped 3 --step-accounting applied`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.TrainSize, "train-size", 512, "training samples")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "number of workers")
	cmd.Flags().IntVar(&opts.ResumeAt, "resume-at", -1, "plan a resume from a checkpoint at this epoch")
	cmd.Flags().IntVar(&opts.Skipped, "skipped", 0, "unstable steps recorded in the checkpoint's phase")
	cmd.Flags().StringVar(&opts.StepAccounting, "step-accounting", "all", "scheduler position on resume (all|applied)")

	return cmd
}

func runPlan(opts *PlanOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.TrainSize < 1 || opts.Workers < 1 {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid flags",
			fmt.Errorf("--train-size and --workers must be >= 1"))
	}
	acct, err := reconfig.ParseStepAccounting(opts.StepAccounting)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid flags", err)
	}
	sched, err := schedule.Load(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSchedule, "failed to load schedule", err)
	}
	if opts.ResumeAt >= sched.TotalEpochs() {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid flags",
			fmt.Errorf("--resume-at %d is past the last epoch %d", opts.ResumeAt, sched.TotalEpochs()-1))
	}

	// Phase switch logs only with --verbose.
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	res, err := planSchedule(cmd.Context(), sched, opts, acct, logger)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSchedule, "planning failed", err)
	}
	return formatter.Success(res)
}

// planSchedule drives a real controller with the synthetic dataset builder
// and reference optimizer so the numbers match a training run.
func planSchedule(ctx context.Context, sched *schedule.Schedule, opts *PlanOptions, acct reconfig.StepAccounting, logger *slog.Logger) (PlanResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	datasets, err := synthetic.NewDatasetBuilder(synthetic.DatasetConfig{
		NumClasses: 2, TrainSize: opts.TrainSize, ValSize: 1,
	})
	if err != nil {
		return PlanResult{}, err
	}
	controller := reconfig.NewController(datasets, optim.Builder{},
		reconfig.WithStepAccounting(acct),
		reconfig.WithShard(0, opts.Workers),
		reconfig.WithLogger(logger))

	var (
		st    reconfig.RunState
		comps reconfig.Components
	)
	res := PlanResult{ScheduleHash: sched.Hash(), Accounting: acct.String()}

	start := 0
	if opts.ResumeAt >= 0 {
		start = opts.ResumeAt
	}
	for epoch := start; epoch < sched.TotalEpochs(); epoch++ {
		var d reconfig.Decision
		if epoch == opts.ResumeAt {
			d, err = reconfig.PlanResume(sched, epoch)
			st.SkippedInPhase = opts.Skipped
		} else {
			d, err = reconfig.Plan(sched, epoch)
		}
		if err != nil {
			return PlanResult{}, err
		}
		if !d.None() {
			if comps, err = controller.Apply(ctx, d, &st, comps); err != nil {
				return PlanResult{}, fmt.Errorf("epoch %d: %w", epoch, err)
			}
		}

		res.Entries = append(res.Entries, PlanEntry{
			Epoch:             epoch,
			PhaseID:           d.Phase.ID,
			Phase:             d.Phase.Name,
			Action:            action(d),
			RebuildDataset:    d.RebuildDataset,
			RebuildOptimizer:  d.RebuildOptimizer,
			StepsPerEpoch:     st.StepsPerEpoch,
			TotalSteps:        st.TotalStepsInPhase,
			SchedulerPosition: comps.Scheduler.Position(),
			LR:                comps.Scheduler.CurrentLR(),
		})
		for i := 0; i < st.StepsPerEpoch; i++ {
			comps.Scheduler.Advance()
		}
	}
	return res, nil
}

func action(d reconfig.Decision) string {
	switch {
	case d.None():
		return "keep"
	case d.Resume:
		return "resume"
	case d.ColdStart():
		return "start"
	default:
		return "switch"
	}
}
