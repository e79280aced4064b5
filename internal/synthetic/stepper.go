package synthetic

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/phasetrain/internal/collective"
	"github.com/roach88/phasetrain/internal/data"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/trainer"
)

// Loss scaler defaults.
const (
	DefaultInitScale      = 65536.0
	DefaultGrowthInterval = 200
	maxScale              = 1 << 24
)

// Stepper runs forward, backward and the optimizer update for a Softmax
// model. Gradients are averaged across the group before the update, so
// every worker applies the same update and agrees on stability.
//
// Loss scaling follows the usual dynamic scheme: gradients are computed
// against loss*scale, a non-finite gradient halves the scale and discards
// the update, and every growth interval of stable steps doubles it.
type Stepper struct {
	model *Softmax
	comm  collective.Collective

	scale          float64
	growthInterval int
	goodSteps      int

	// ForceOverflow, when set, makes the step at the given index overflow.
	// It must return the same answer on every worker.
	ForceOverflow func(at trainer.StepIndex) bool
}

// NewStepper creates a stepper for m that averages gradients through comm.
func NewStepper(m *Softmax, comm collective.Collective) *Stepper {
	if comm == nil {
		comm = collective.Solo()
	}
	return &Stepper{
		model:          m,
		comm:           comm,
		scale:          DefaultInitScale,
		growthInterval: DefaultGrowthInterval,
	}
}

// Scale returns the current loss scale.
func (s *Stepper) Scale() float64 { return s.scale }

// Step implements trainer.Stepper.
func (s *Stepper) Step(ctx context.Context, at trainer.StepIndex, batch data.Batch, opt reconfig.Optimizer, lr float64) (trainer.StepResult, error) {
	n := batch.Len()
	if n == 0 {
		return trainer.StepResult{}, fmt.Errorf("synthetic: empty batch")
	}
	m := s.model

	gw := make([]float32, len(m.weight))
	gb := make([]float32, len(m.bias))
	logits := make([][]float32, n)
	var loss float64

	for i, x := range batch.Inputs {
		y := batch.Labels[i]
		if y < 0 || y >= m.classes {
			return trainer.StepResult{}, fmt.Errorf("synthetic: label %d out of range", y)
		}
		feat := pool(x, m.features)
		z := m.logits(feat)
		logits[i] = append([]float32(nil), z...)

		softmaxInPlace(z)
		loss -= math.Log(math.Max(float64(z[y]), 1e-12))

		// dL/dz = p - onehot(y), scaled by the loss scale.
		for c := range z {
			g := z[c]
			if c == y {
				g -= 1
			}
			g *= float32(s.scale / float64(n))
			gb[c] += g
			row := gw[c*m.features : (c+1)*m.features]
			for j, f := range feat {
				row[j] += g * f
			}
		}
	}
	loss /= float64(n)

	if err := s.averageGrads(ctx, gw, gb); err != nil {
		return trainer.StepResult{}, err
	}

	res := trainer.StepResult{Loss: loss, Logits: logits}
	if (s.ForceOverflow != nil && s.ForceOverflow(at)) || !finite(gw) || !finite(gb) {
		s.scale /= 2
		s.goodSteps = 0
		return res, nil
	}

	inv := float32(1 / s.scale)
	for i := range gw {
		gw[i] *= inv
	}
	for i := range gb {
		gb[i] *= inv
	}
	if err := opt.Apply(m.tensors(), [][]float32{gw, gb}, lr); err != nil {
		return trainer.StepResult{}, err
	}

	s.goodSteps++
	if s.goodSteps%s.growthInterval == 0 && s.scale*2 <= maxScale {
		s.scale *= 2
	}
	res.Stable = true
	return res, nil
}

// averageGrads replaces gw and gb with their mean across the group.
func (s *Stepper) averageGrads(ctx context.Context, gw, gb []float32) error {
	world := s.comm.WorldSize()
	if world == 1 {
		return nil
	}
	vec := make([]float64, 0, len(gw)+len(gb))
	for _, g := range gw {
		vec = append(vec, float64(g))
	}
	for _, g := range gb {
		vec = append(vec, float64(g))
	}
	sum, err := s.comm.AllReduce(ctx, vec)
	if err != nil {
		return fmt.Errorf("average gradients: %w", err)
	}
	for i := range gw {
		gw[i] = float32(sum[i] / float64(world))
	}
	for i := range gb {
		gb[i] = float32(sum[len(gw)+i] / float64(world))
	}
	return nil
}

func finite(xs []float32) bool {
	for _, v := range xs {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			return false
		}
	}
	return true
}
