package collective

import (
	"context"
	"errors"
)

var (
	// ErrGroupAborted is returned by every member once any member's
	// blocking call was cancelled.
	ErrGroupAborted = errors.New("collective group aborted")

	// ErrLengthMismatch is returned to every member when the members of one
	// AllReduce round contributed vectors of different lengths.
	ErrLengthMismatch = errors.New("allreduce vector length mismatch")
)

// Collective is one worker's handle on the group.
type Collective interface {
	// Rank is this worker's index in [0, WorldSize()).
	Rank() int

	// WorldSize is the number of workers in the group.
	WorldSize() int

	// AllReduce returns the element-wise sum of values across all workers.
	// Every worker receives an identical result.
	AllReduce(ctx context.Context, values []float64) ([]float64, error)

	// Barrier blocks until every worker has reached it.
	Barrier(ctx context.Context) error
}

// IsPrimary reports whether c is the designated worker for persistent writes.
func IsPrimary(c Collective) bool {
	return c.Rank() == 0
}

// AnyTrue reduces a boolean across the group: the result is true on every
// worker if it was true on at least one.
func AnyTrue(ctx context.Context, c Collective, flag bool) (bool, error) {
	v := 0.0
	if flag {
		v = 1
	}
	out, err := c.AllReduce(ctx, []float64{v})
	if err != nil {
		return false, err
	}
	return out[0] > 0, nil
}

// solo is the single-worker group. Every collective is a no-op.
type solo struct{}

// Solo returns a Collective for a run with one worker.
func Solo() Collective {
	return solo{}
}

func (solo) Rank() int      { return 0 }
func (solo) WorldSize() int { return 1 }

func (solo) AllReduce(ctx context.Context, values []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	copy(out, values)
	return out, nil
}

func (solo) Barrier(ctx context.Context) error {
	return ctx.Err()
}
