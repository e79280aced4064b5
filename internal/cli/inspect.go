package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/schedule"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Slot   string
	Phases string
}

// TensorInfo describes one stored tensor.
type TensorInfo struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// InspectResult describes a checkpoint and, when a schedule is given, how a
// run would resume from it.
type InspectResult struct {
	Path           string       `json:"path"`
	Epoch          int          `json:"epoch"`
	BestScore      float64      `json:"best_score"`
	RunID          string       `json:"run_id,omitempty"`
	ScheduleHash   string       `json:"schedule_hash,omitempty"`
	SkippedInPhase int          `json:"skipped_in_phase"`
	HasOptimizer   bool         `json:"has_optimizer_state"`
	Tensors        []TensorInfo `json:"tensors"`

	// Set when --phases is given.
	Complete      bool   `json:"complete,omitempty"`
	ResumePhase   string `json:"resume_phase,omitempty"`
	ResumePhaseID int    `json:"resume_phase_id,omitempty"`
	PhaseStart    bool   `json:"phase_start,omitempty"`
	HashMatches   *bool  `json:"hash_matches,omitempty"`
}

func (r InspectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Checkpoint %s\n", r.Path)
	fmt.Fprintf(&b, "  next epoch: %d\n", r.Epoch)
	fmt.Fprintf(&b, "  best score: %.4f\n", r.BestScore)
	if r.RunID != "" {
		fmt.Fprintf(&b, "  run:        %s\n", r.RunID)
	}
	fmt.Fprintf(&b, "  skipped:    %d\n", r.SkippedInPhase)
	fmt.Fprintf(&b, "  optimizer:  %t\n", r.HasOptimizer)
	for _, t := range r.Tensors {
		fmt.Fprintf(&b, "  tensor %s %v\n", t.Name, t.Shape)
	}
	switch {
	case r.HashMatches == nil:
	case r.Complete:
		b.WriteString("  resume:     run already complete\n")
	default:
		fmt.Fprintf(&b, "  resume:     phase %d (%s), phase start: %t\n", r.ResumePhaseID, r.ResumePhase, r.PhaseStart)
	}
	if r.HashMatches != nil && !*r.HashMatches {
		b.WriteString("  warning:    schedule changed since checkpoint was written\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <model-dir>",
		Short: "Show a checkpoint and its resume plan",
		Long: `Read a checkpoint slot and print its epoch, best score and tensors.

With --phases the command also shows which phase a resume would rebuild and
whether optimizer state would be restored (only inside a phase, not at its
first epoch).

Exit codes:
  0 - Checkpoint read
  1 - Checkpoint corrupt
  2 - Command error (slot not found, bad schedule)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Slot, "slot", checkpoint.SlotBest, "checkpoint slot (empty for latest)")
	cmd.Flags().StringVar(&opts.Phases, "phases", "", "phase schedule to plan the resume against")

	return cmd
}

func runInspect(opts *InspectOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	fs := checkpoint.NewFileStore(dir)
	ckpt, err := fs.Load(context.Background(), opts.Slot)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return formatter.Fail(ExitCommandError, ErrCodeCheckpoint, "checkpoint not found", err)
	case err != nil:
		return formatter.Fail(ExitFailure, ErrCodeCheckpoint, "failed to read checkpoint", err)
	}

	res := InspectResult{
		Path:           fs.Path(opts.Slot),
		Epoch:          ckpt.Epoch,
		BestScore:      ckpt.BestScore,
		RunID:          ckpt.RunID,
		ScheduleHash:   ckpt.ScheduleHash,
		SkippedInPhase: ckpt.SkippedInPhase,
		HasOptimizer:   len(ckpt.OptimizerState) > 0,
	}
	for _, t := range ckpt.Model {
		res.Tensors = append(res.Tensors, TensorInfo{Name: t.Name, Shape: t.Shape})
	}

	if opts.Phases != "" {
		sched, err := schedule.Load(opts.Phases)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeSchedule, "failed to load schedule", err)
		}
		matches := ckpt.ScheduleHash == "" || ckpt.ScheduleHash == sched.Hash()
		res.HashMatches = &matches

		if ckpt.Epoch >= sched.TotalEpochs() {
			res.Complete = true
		} else {
			d, err := reconfig.PlanResume(sched, ckpt.Epoch)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeSchedule, "cannot resume", err)
			}
			res.ResumePhase = d.Phase.Name
			res.ResumePhaseID = d.Phase.ID
			res.PhaseStart = ckpt.Epoch == d.Phase.StartEpoch
		}
	}

	return formatter.Success(res)
}
