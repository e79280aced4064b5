package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrain/internal/config"
	"github.com/roach88/phasetrain/internal/schedule"
)

// PhaseInfo describes one phase of a validated schedule.
type PhaseInfo struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	StartEpoch  int     `json:"start_epoch"`
	EndEpoch    int     `json:"end_epoch"`
	DataSize    int     `json:"data_size"`
	CropSize    int     `json:"crop_size"`
	BatchSize   int     `json:"batch_size"`
	LRScheduler string  `json:"lr_scheduler"`
	LR          float64 `json:"lr"`
	LREnd       float64 `json:"lr_end"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool        `json:"valid"`
	Hash        string      `json:"hash,omitempty"`
	TotalEpochs int         `json:"total_epochs,omitempty"`
	Phases      []PhaseInfo `json:"phases,omitempty"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Schedule valid: %d phase(s), %d epoch(s)\n", len(r.Phases), r.TotalEpochs)
	fmt.Fprintf(&b, "  hash: %s\n", r.Hash)
	for _, p := range r.Phases {
		fmt.Fprintf(&b, "  [%d] %-12s epochs [%d,%d) data=%d crop=%d batch=%d lr=%s(%g->%g)\n",
			p.ID, p.Name, p.StartEpoch, p.EndEpoch, p.DataSize, p.CropSize, p.BatchSize,
			p.LRScheduler, p.LR, p.LREnd)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <phases>",
		Short: "Validate a phase schedule",
		Long: `Load a phase schedule (YAML or CUE) and check that its phases are
contiguous from epoch 0, non-overlapping, and use known learning-rate
schedulers.

Exit codes:
  0 - Schedule valid
  1 - Schedule invalid
  2 - Command error (file not found, unsupported format)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	formatter.VerboseLog("Loading schedule %s", path)

	sched, err := schedule.Load(path)
	if err == nil {
		err = config.CheckSchedule(sched)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return formatter.Fail(ExitCommandError, ErrCodeSchedule, "failed to load schedule", err)
		}
		code := ErrCodeSchedule
		var se *schedule.Error
		if errors.As(err, &se) {
			code = string(se.Code)
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitFailure, "schedule invalid", err)
	}

	return formatter.Success(describeSchedule(sched))
}

func describeSchedule(sched *schedule.Schedule) ValidationResult {
	res := ValidationResult{Valid: true, Hash: sched.Hash(), TotalEpochs: sched.TotalEpochs()}
	for _, p := range sched.Phases() {
		res.Phases = append(res.Phases, PhaseInfo{
			ID: p.ID, Name: p.Name,
			StartEpoch: p.StartEpoch, EndEpoch: p.EndEpoch,
			DataSize: p.DataSize, CropSize: p.CropSize, BatchSize: p.BatchSize,
			LRScheduler: p.LRScheduler, LR: p.LR, LREnd: p.LREnd,
		})
	}
	return res
}
