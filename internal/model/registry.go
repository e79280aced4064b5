package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/phasetrain/internal/collective"
	"github.com/roach88/phasetrain/internal/synthetic"
	"github.com/roach88/phasetrain/internal/trainer"
)

// ErrUnknownModel is returned for a name with no registered builder.
var ErrUnknownModel = errors.New("unknown model")

// DefaultName is the model used when the configuration names none.
const DefaultName = "softmax"

// Spec parameterizes a build.
type Spec struct {
	NumClasses int
	Seed       uint64

	// Comm is the worker's group handle, used by steppers that average
	// gradients.
	Comm collective.Collective
}

// Network is a model together with the compute step that trains it.
type Network struct {
	Model   trainer.Model
	Stepper trainer.Stepper
}

// Builder constructs a Network.
type Builder func(spec Spec) (Network, error)

// Registry maps names to builders. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Default returns a registry with the built-in models.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(DefaultName, buildSoftmax)
	return r
}

// Register adds a builder under name.
func (r *Registry) Register(name string, b Builder) error {
	if name == "" || b == nil {
		return errors.New("model: name and builder are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[name]; dup {
		return fmt.Errorf("model: %q already registered", name)
	}
	r.builders[name] = b
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, b Builder) {
	if err := r.Register(name, b); err != nil {
		panic(err)
	}
}

// Lookup validates name and returns its builder.
func (r *Registry) Lookup(name string) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownModel, name, r.namesLocked())
	}
	return b, nil
}

// Build constructs the model registered under name.
func (r *Registry) Build(name string, spec Spec) (Network, error) {
	b, err := r.Lookup(name)
	if err != nil {
		return Network{}, err
	}
	return b(spec)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildSoftmax(spec Spec) (Network, error) {
	m, err := synthetic.NewSoftmax(synthetic.DefaultFeatures, spec.NumClasses, spec.Seed)
	if err != nil {
		return Network{}, err
	}
	return Network{Model: m, Stepper: synthetic.NewStepper(m, spec.Comm)}, nil
}
