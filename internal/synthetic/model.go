package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/roach88/phasetrain/internal/checkpoint"
)

// DefaultFeatures is the pooled feature width of the softmax model.
const DefaultFeatures = 16

// Softmax is a linear classifier over adaptively average-pooled inputs.
// Pooling to a fixed width keeps parameter shapes independent of crop size,
// so one set of weights serves every phase.
type Softmax struct {
	features int
	classes  int
	weight   []float32 // classes x features, row-major
	bias     []float32
	training bool
}

// NewSoftmax creates a model with small seeded random weights.
func NewSoftmax(features, classes int, seed uint64) (*Softmax, error) {
	if features < 1 || classes < 2 {
		return nil, fmt.Errorf("softmax: need features >= 1 and classes >= 2, got %d and %d", features, classes)
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	m := &Softmax{
		features: features,
		classes:  classes,
		weight:   make([]float32, classes*features),
		bias:     make([]float32, classes),
		training: true,
	}
	for i := range m.weight {
		m.weight[i] = float32(0.01 * rng.NormFloat64())
	}
	return m, nil
}

// Classes returns the number of output classes.
func (m *Softmax) Classes() int { return m.classes }

// Parameters returns copies of the model tensors.
func (m *Softmax) Parameters() []checkpoint.Tensor {
	return []checkpoint.Tensor{
		{Name: "linear.weight", Shape: []int{m.classes, m.features}, Data: append([]float32(nil), m.weight...)},
		{Name: "linear.bias", Shape: []int{m.classes}, Data: append([]float32(nil), m.bias...)},
	}
}

// LoadParameters replaces the model tensors after validating their shapes.
func (m *Softmax) LoadParameters(ts []checkpoint.Tensor) error {
	if err := checkpoint.ValidateShapes(m.Parameters(), ts); err != nil {
		return err
	}
	for _, t := range ts {
		switch t.Name {
		case "linear.weight":
			copy(m.weight, t.Data)
		case "linear.bias":
			copy(m.bias, t.Data)
		}
	}
	return nil
}

// SetTraining toggles training mode. The model has no mode-dependent layers;
// the flag is tracked so callers can assert it is restored.
func (m *Softmax) SetTraining(on bool) { m.training = on }

// Training reports whether the model is in training mode.
func (m *Softmax) Training() bool { return m.training }

// Predict returns logits for each input.
func (m *Softmax) Predict(inputs [][]float32) [][]float32 {
	out := make([][]float32, len(inputs))
	for i, x := range inputs {
		out[i] = m.logits(pool(x, m.features))
	}
	return out
}

// tensors exposes the live parameter slices to the optimizer.
func (m *Softmax) tensors() [][]float32 {
	return [][]float32{m.weight, m.bias}
}

func (m *Softmax) logits(feat []float32) []float32 {
	out := make([]float32, m.classes)
	for c := 0; c < m.classes; c++ {
		row := m.weight[c*m.features : (c+1)*m.features]
		acc := m.bias[c]
		for j, f := range feat {
			acc += row[j] * f
		}
		out[c] = acc
	}
	return out
}

// pool averages x into width bins. Bin i covers
// [floor(i*n/width), ceil((i+1)*n/width)).
func pool(x []float32, width int) []float32 {
	n := len(x)
	out := make([]float32, width)
	if n == 0 {
		return out
	}
	for i := range out {
		start := i * n / width
		end := ((i+1)*n + width - 1) / width
		var sum float32
		for _, v := range x[start:end] {
			sum += v
		}
		out[i] = sum / float32(end-start)
	}
	return out
}

// softmaxInPlace converts logits to probabilities.
func softmaxInPlace(z []float32) {
	maxv := float32(math.Inf(-1))
	for _, v := range z {
		maxv = max(maxv, v)
	}
	var sum float64
	for i, v := range z {
		e := math.Exp(float64(v - maxv))
		z[i] = float32(e)
		sum += e
	}
	for i := range z {
		z[i] = float32(float64(z[i]) / sum)
	}
}
