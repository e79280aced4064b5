package reconfig

import (
	"fmt"
	"strings"

	"github.com/roach88/phasetrain/internal/schedule"
)

// StepAccounting selects how the scheduler position is reconstructed on
// resume when some steps were skipped for numeric instability.
type StepAccounting int

const (
	// CountAllSteps positions the scheduler at
	// (epoch - phase.StartEpoch) * StepsPerEpoch, counting every step
	// whether or not the scheduler advanced on it.
	CountAllSteps StepAccounting = iota

	// CountAppliedSteps subtracts the skipped steps recorded in the
	// checkpoint, which reproduces the scheduler position of an
	// uninterrupted run exactly.
	CountAppliedSteps
)

func (a StepAccounting) String() string {
	switch a {
	case CountAllSteps:
		return "all"
	case CountAppliedSteps:
		return "applied"
	default:
		return fmt.Sprintf("StepAccounting(%d)", int(a))
	}
}

// ParseStepAccounting parses "all" or "applied". The empty string is "all".
func ParseStepAccounting(s string) (StepAccounting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return CountAllSteps, nil
	case "applied":
		return CountAppliedSteps, nil
	default:
		return 0, fmt.Errorf("unknown step accounting %q (want all or applied)", s)
	}
}

// ResumePosition returns the scheduler step counter for a run entering epoch
// inside phase.
func ResumePosition(phase schedule.Phase, epoch, stepsPerEpoch, skipped int, acct StepAccounting) int {
	pos := (epoch - phase.StartEpoch) * stepsPerEpoch
	if acct == CountAppliedSteps {
		pos -= skipped
	}
	if pos < 0 {
		return 0
	}
	return pos
}

// Hyper is the learning-rate policy of the active phase.
type Hyper struct {
	Kind  string
	LR    float64
	LREnd float64
}

// RunState is the explicit training state threaded through the epoch loop.
type RunState struct {
	// Epoch is the epoch about to run (or running).
	Epoch     int
	BestScore float64

	Phase schedule.Phase
	Hyper Hyper

	StepsPerEpoch     int
	TotalStepsInPhase int

	// SkippedInPhase counts scheduler advances skipped since the phase began.
	SkippedInPhase int
}

// Progress returns the fraction of the phase's scheduler steps consumed at
// position.
func (s *RunState) Progress(position int) float64 {
	if s.TotalStepsInPhase == 0 {
		return 0
	}
	return float64(position) / float64(s.TotalStepsInPhase)
}
