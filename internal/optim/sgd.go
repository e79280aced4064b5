package optim

import (
	"encoding/json"
	"fmt"
)

// SGD is stochastic gradient descent with classical momentum and optional L2
// weight decay:
//
//	v = momentum*v + (g + decay*p)
//	p = p - lr*v
type SGD struct {
	momentum    float64
	weightDecay float64
	velocity    [][]float32
}

// NewSGD creates an SGD optimizer. Velocity buffers are allocated on the
// first Apply.
func NewSGD(momentum, weightDecay float64) *SGD {
	return &SGD{momentum: momentum, weightDecay: weightDecay}
}

// Apply updates params in place.
func (o *SGD) Apply(params, grads [][]float32, lr float64) error {
	if len(params) != len(grads) {
		return fmt.Errorf("sgd: %d params but %d grads", len(params), len(grads))
	}
	if o.velocity == nil {
		o.velocity = make([][]float32, len(params))
		for i, p := range params {
			o.velocity[i] = make([]float32, len(p))
		}
	}
	if len(o.velocity) != len(params) {
		return fmt.Errorf("sgd: state has %d tensors, params have %d", len(o.velocity), len(params))
	}

	mu := float32(o.momentum)
	wd := float32(o.weightDecay)
	step := float32(lr)
	for i, p := range params {
		g, v := grads[i], o.velocity[i]
		if len(g) != len(p) || len(v) != len(p) {
			return fmt.Errorf("sgd: tensor %d size mismatch (param %d, grad %d, state %d)", i, len(p), len(g), len(v))
		}
		for j := range p {
			v[j] = mu*v[j] + g[j] + wd*p[j]
			p[j] -= step * v[j]
		}
	}
	return nil
}

type sgdState struct {
	Type        string      `json:"type"`
	Momentum    float64     `json:"momentum"`
	WeightDecay float64     `json:"weight_decay"`
	Velocity    [][]float32 `json:"velocity"`
}

// State serializes the momentum buffers.
func (o *SGD) State() ([]byte, error) {
	return json.Marshal(sgdState{
		Type:        "sgd",
		Momentum:    o.momentum,
		WeightDecay: o.weightDecay,
		Velocity:    o.velocity,
	})
}

// LoadState restores momentum buffers written by State. Hyperparameters are
// kept from construction; the phase schedule owns them.
func (o *SGD) LoadState(state []byte) error {
	var st sgdState
	if err := json.Unmarshal(state, &st); err != nil {
		return fmt.Errorf("sgd: decode state: %w", err)
	}
	if st.Type != "sgd" {
		return fmt.Errorf("sgd: state type %q", st.Type)
	}
	o.velocity = st.Velocity
	return nil
}
