package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrain/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Ledger string
	RunID  string // optional - specific run only
}

// RunDetail is one run with its recorded history.
type RunDetail struct {
	store.Run
	PhaseSwitches []store.PhaseSwitch     `json:"phase_switches,omitempty"`
	Checkpoints   []store.CheckpointWrite `json:"checkpoints,omitempty"`
	TestTop1      map[int]float64         `json:"test_top1,omitempty"`
}

// RunsResult holds the ledger listing.
type RunsResult struct {
	Runs []RunDetail `json:"runs"`
}

func (r RunsResult) String() string {
	if len(r.Runs) == 0 {
		return "No runs recorded"
	}
	var b strings.Builder
	for _, run := range r.Runs {
		fmt.Fprintf(&b, "%s  %-9s epochs %d..%d  best %.4f  workers %d",
			run.ID, run.Status, run.StartEpoch, run.FinalEpoch, run.BestScore, run.WorldSize)
		if run.ResumedFrom != "" {
			fmt.Fprintf(&b, "  resumed from %s", run.ResumedFrom)
		}
		b.WriteByte('\n')
		for _, ps := range run.PhaseSwitches {
			fmt.Fprintf(&b, "  epoch %3d  phase %d %-12s dataset=%t optimizer=%t resume=%t steps=%d position=%d\n",
				ps.Epoch, ps.PhaseID, ps.PhaseName, ps.RebuildDataset, ps.RebuildOptimizer,
				ps.Resume, ps.StepsPerEpoch, ps.SchedulerPosition)
		}
		for _, cw := range run.Checkpoints {
			fmt.Fprintf(&b, "  saved %-12q epoch %3d score %.4f\n", cw.Slot, cw.Epoch, cw.Score)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List training runs recorded in a ledger",
		Long: `Read the run ledger and report each run's status, epochs and best score.

With --run the report includes the run's phase switches, checkpoint writes and
per-epoch validation top-1.

Examples:
  phasetrain runs --ledger ./runs/ledger.db
  phasetrain runs --ledger ./runs/ledger.db --run 0192f0c4-...
  phasetrain runs --ledger ./runs/ledger.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to SQLite run ledger (required)")
	_ = cmd.MarkFlagRequired("ledger")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show one run in detail")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := store.Open(opts.Ledger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeLedger, "failed to list runs", err)
		}
		res := RunsResult{Runs: make([]RunDetail, 0, len(runs))}
		for _, r := range runs {
			res.Runs = append(res.Runs, RunDetail{Run: r})
		}
		return formatter.Success(res)
	}

	detail, err := loadRunDetail(ctx, st, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "unknown run", err)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeLedger, "failed to read run", err)
	}
	return formatter.Success(RunsResult{Runs: []RunDetail{detail}})
}

func loadRunDetail(ctx context.Context, st *store.Store, id string) (RunDetail, error) {
	run, err := st.GetRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	d := RunDetail{Run: run, TestTop1: make(map[int]float64)}
	if d.PhaseSwitches, err = st.PhaseSwitches(ctx, id); err != nil {
		return RunDetail{}, err
	}
	if d.Checkpoints, err = st.CheckpointWrites(ctx, id); err != nil {
		return RunDetail{}, err
	}
	rows, err := st.EpochMetrics(ctx, id, "test")
	if err != nil {
		return RunDetail{}, err
	}
	for _, m := range rows {
		if m.Name == "top1" {
			d.TestTop1[m.Epoch] = m.Avg
		}
	}
	return d, nil
}
