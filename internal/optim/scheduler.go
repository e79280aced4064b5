package optim

import (
	"fmt"
	"math"
)

// Scheduler kinds accepted in phase schedules.
const (
	KindConstant = "constant"
	KindLinear   = "linear"
	KindCosine   = "cosine"
	KindExp      = "exp"
)

// Kinds lists the supported scheduler kinds.
func Kinds() []string {
	return []string{KindConstant, KindCosine, KindExp, KindLinear}
}

// Scheduler interpolates the learning rate from LR to LREnd over TotalSteps
// advances. Past TotalSteps the rate stays at LREnd.
type Scheduler struct {
	kind       string
	lr         float64
	lrEnd      float64
	totalSteps int
	pos        int
}

// NewScheduler creates a scheduler at position 0.
func NewScheduler(kind string, lr, lrEnd float64, totalSteps int) (*Scheduler, error) {
	switch kind {
	case KindConstant, KindLinear, KindCosine:
	case KindExp:
		if lr <= 0 || lrEnd <= 0 {
			return nil, fmt.Errorf("exp scheduler needs positive lr and lr_end, got %g and %g", lr, lrEnd)
		}
	default:
		return nil, fmt.Errorf("unknown lr scheduler %q", kind)
	}
	if totalSteps < 0 {
		return nil, fmt.Errorf("total steps must be >= 0, got %d", totalSteps)
	}
	return &Scheduler{kind: kind, lr: lr, lrEnd: lrEnd, totalSteps: totalSteps}, nil
}

// Kind returns the scheduler kind.
func (s *Scheduler) Kind() string { return s.kind }

// TotalSteps returns the number of advances over which the rate moves.
func (s *Scheduler) TotalSteps() int { return s.totalSteps }

// CurrentLR returns the rate at the current position.
func (s *Scheduler) CurrentLR() float64 {
	return s.at(s.pos)
}

// Advance moves one step along the curve.
func (s *Scheduler) Advance() { s.pos++ }

// Position returns the number of advances so far.
func (s *Scheduler) Position() int { return s.pos }

// SetPosition jumps to step.
func (s *Scheduler) SetPosition(step int) {
	if step < 0 {
		step = 0
	}
	s.pos = step
}

func (s *Scheduler) at(step int) float64 {
	if s.kind == KindConstant {
		return s.lr
	}
	if s.totalSteps == 0 || step >= s.totalSteps {
		return s.lrEnd
	}
	t := float64(step) / float64(s.totalSteps)
	switch s.kind {
	case KindLinear:
		return s.lr + (s.lrEnd-s.lr)*t
	case KindCosine:
		return s.lrEnd + (s.lr-s.lrEnd)*(1+math.Cos(math.Pi*t))/2
	case KindExp:
		return s.lr * math.Pow(s.lrEnd/s.lr, t)
	}
	return s.lr
}
