package testutil

import (
	"context"
	"math"
	"sync"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/data"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/trainer"
)

// FakeModel has one trainable tensor and scripted validation accuracy.
//
// During the k-th validation pass (k counted from 0 by SetTraining(false)
// calls), a sample with index i is classified correctly iff
// i < round(Scores[k] * ValSize). The last score repeats once the script
// runs out.
type FakeModel struct {
	NumClasses int
	ValSize    int
	Scores     []float64

	weight   []float32
	training bool
	passes   int
}

// NewFakeModel creates a model with a zeroed 4-element weight.
func NewFakeModel(numClasses, valSize int, scores ...float64) *FakeModel {
	return &FakeModel{
		NumClasses: numClasses,
		ValSize:    valSize,
		Scores:     scores,
		weight:     make([]float32, 4),
		training:   true,
	}
}

// Parameters implements trainer.Model.
func (m *FakeModel) Parameters() []checkpoint.Tensor {
	return []checkpoint.Tensor{{Name: "w", Shape: []int{len(m.weight)}, Data: append([]float32(nil), m.weight...)}}
}

// LoadParameters implements trainer.Model.
func (m *FakeModel) LoadParameters(ts []checkpoint.Tensor) error {
	if err := checkpoint.ValidateShapes(m.Parameters(), ts); err != nil {
		return err
	}
	copy(m.weight, ts[0].Data)
	return nil
}

// SetTraining implements trainer.Model.
func (m *FakeModel) SetTraining(on bool) {
	if !on && m.training {
		m.passes++
	}
	m.training = on
}

// Training reports the current mode.
func (m *FakeModel) Training() bool { return m.training }

// Weight returns a copy of the trainable tensor.
func (m *FakeModel) Weight() []float32 { return append([]float32(nil), m.weight...) }

// Predict implements trainer.Model.
func (m *FakeModel) Predict(inputs [][]float32) [][]float32 {
	cutoff := len(inputs) + m.ValSize
	if !m.training && len(m.Scores) > 0 {
		k := min(m.passes-1, len(m.Scores)-1)
		cutoff = int(math.Round(m.Scores[k] * float64(m.ValSize)))
	}
	out := make([][]float32, len(inputs))
	for i, x := range inputs {
		label := int(x[featLabel])
		if int(x[featIndex]) < cutoff {
			out[i] = oneHot(m.NumClasses, label)
			continue
		}
		// Wrong at top-1, right at top-5.
		out[i] = oneHot(m.NumClasses, (label+1)%m.NumClasses)
		out[i][label] = 0.5
	}
	return out
}

func oneHot(n, hot int) []float32 {
	row := make([]float32, n)
	row[hot] = 1
	return row
}

// ScriptedStepper reports deterministic losses and applies a constant
// gradient to a FakeModel. Steps for which Unstable returns true are
// reported unstable and leave the model untouched.
type ScriptedStepper struct {
	Model    *FakeModel
	Unstable func(at trainer.StepIndex) bool
	OnStep   func(at trainer.StepIndex)

	mu  sync.Mutex
	lrs map[trainer.StepIndex]float64
}

// NewScriptedStepper creates a stepper for m.
func NewScriptedStepper(m *FakeModel) *ScriptedStepper {
	return &ScriptedStepper{Model: m, lrs: make(map[trainer.StepIndex]float64)}
}

// Step implements trainer.Stepper. The loss of step s in epoch e is
// 2^-(e mod 4 + 1), exact in binary floating point.
func (s *ScriptedStepper) Step(_ context.Context, at trainer.StepIndex, batch data.Batch, opt reconfig.Optimizer, lr float64) (trainer.StepResult, error) {
	if s.OnStep != nil {
		s.OnStep(at)
	}
	s.mu.Lock()
	s.lrs[at] = lr
	s.mu.Unlock()

	logits := make([][]float32, batch.Len())
	for i, y := range batch.Labels {
		logits[i] = oneHot(s.Model.NumClasses, y)
	}
	res := trainer.StepResult{
		Loss:   1 / float64(uint(1)<<(at.Epoch%4+1)),
		Logits: logits,
	}
	if s.Unstable != nil && s.Unstable(at) {
		return res, nil
	}

	grad := make([]float32, len(s.Model.weight))
	for i := range grad {
		grad[i] = 0.5
	}
	if err := opt.Apply([][]float32{s.Model.weight}, [][]float32{grad}, lr); err != nil {
		return trainer.StepResult{}, err
	}
	res.Stable = true
	return res, nil
}

// LR returns the learning rate used at at.
func (s *ScriptedStepper) LR(at trainer.StepIndex) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lr, ok := s.lrs[at]
	return lr, ok
}
