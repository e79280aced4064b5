package perturb

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/roach88/phasetrain/internal/data"
	"github.com/roach88/phasetrain/internal/trainer"
)

// ErrUnknownPerturber is returned for an unregistered perturbation name.
var ErrUnknownPerturber = errors.New("unknown perturber")

// Perturbation names.
const (
	None     = "none"
	Gaussian = "gaussian"
)

// Names lists the supported perturbations.
func Names() []string { return []string{Gaussian, None} }

// Spec parameterizes a perturbation.
type Spec struct {
	Sigma float64
	Seed  uint64
	Rank  int
}

// New returns the perturbation registered under name. The empty name is
// None.
func New(name string, spec Spec) (trainer.Perturber, error) {
	switch name {
	case "", None:
		return Identity{}, nil
	case Gaussian:
		if spec.Sigma <= 0 {
			return nil, fmt.Errorf("perturb: gaussian needs sigma > 0, got %g", spec.Sigma)
		}
		return &GaussianNoise{sigma: spec.Sigma, seed: spec.Seed, rank: spec.Rank}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPerturber, name)
	}
}

// Identity returns batches unchanged.
type Identity struct{}

// Perturb implements trainer.Perturber.
func (Identity) Perturb(_ trainer.StepIndex, b data.Batch) data.Batch { return b }

// GaussianNoise adds isotropic noise with standard deviation sigma, as used
// for training randomized-smoothing classifiers. The noise of a step is a
// function of (seed, rank, epoch, step) so resumed runs reproduce it.
type GaussianNoise struct {
	sigma float64
	seed  uint64
	rank  int
}

// Perturb implements trainer.Perturber. The input batch is not modified.
func (g *GaussianNoise) Perturb(at trainer.StepIndex, b data.Batch) data.Batch {
	rng := rand.New(rand.NewPCG(g.seed^uint64(g.rank)<<48, uint64(at.Epoch)<<32|uint64(at.Step)))
	out := data.Batch{
		Inputs: make([][]float32, len(b.Inputs)),
		Labels: b.Labels,
	}
	for i, x := range b.Inputs {
		y := make([]float32, len(x))
		for j, v := range x {
			y[j] = v + float32(g.sigma*rng.NormFloat64())
		}
		out.Inputs[i] = y
	}
	return out
}
