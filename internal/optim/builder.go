package optim

import (
	"context"

	"github.com/roach88/phasetrain/internal/reconfig"
)

// Builder constructs SGD optimizers with a phase's scheduler.
type Builder struct {
	Momentum    float64
	WeightDecay float64
}

// BuildOptimizer implements reconfig.OptimizerBuilder.
func (b Builder) BuildOptimizer(_ context.Context, spec reconfig.OptimizerSpec) (reconfig.Optimizer, reconfig.LRScheduler, error) {
	sched, err := NewScheduler(spec.Kind, spec.LR, spec.LREnd, spec.TotalSteps)
	if err != nil {
		return nil, nil, err
	}
	return NewSGD(b.Momentum, b.WeightDecay), sched, nil
}
