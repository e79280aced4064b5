package collective

import (
	"context"
	"fmt"
	"sync"
)

// localGroup is a generation-counted rendezvous shared by in-process workers.
//
// Each AllReduce round accumulates contributions under mu; the last member
// to arrive publishes the result, bumps gen and wakes the others. A member
// waiting on round g only returns once gen != g, so a fast member starting
// round g+1 cannot overwrite the result slow members of round g still read:
// round g+1 cannot complete without them.
type localGroup struct {
	mu   sync.Mutex
	cond *sync.Cond
	size int

	gen     uint64
	arrived int
	acc     []float64
	accErr  error

	result    []float64
	resultErr error

	aborted error
}

type localMember struct {
	group *localGroup
	rank  int
}

// NewLocalGroup creates a group of n in-process members, one per worker.
// Member i has rank i.
func NewLocalGroup(n int) []Collective {
	if n < 1 {
		panic(fmt.Sprintf("collective: group size must be >= 1, got %d", n))
	}
	g := &localGroup{size: n}
	g.cond = sync.NewCond(&g.mu)

	members := make([]Collective, n)
	for i := range members {
		members[i] = &localMember{group: g, rank: i}
	}
	return members
}

func (m *localMember) Rank() int      { return m.rank }
func (m *localMember) WorldSize() int { return m.group.size }

func (m *localMember) AllReduce(ctx context.Context, values []float64) ([]float64, error) {
	return m.group.reduce(ctx, values)
}

func (m *localMember) Barrier(ctx context.Context) error {
	_, err := m.group.reduce(ctx, nil)
	return err
}

func (g *localGroup) reduce(ctx context.Context, values []float64) ([]float64, error) {
	// Cancelling any blocked member poisons the whole group.
	stop := context.AfterFunc(ctx, func() {
		g.abort(fmt.Errorf("%w: %v", ErrGroupAborted, context.Cause(ctx)))
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.aborted != nil {
		return nil, g.aborted
	}

	myGen := g.gen
	if g.arrived == 0 {
		g.acc = make([]float64, len(values))
		g.accErr = nil
	}
	if len(values) != len(g.acc) {
		g.accErr = fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(values), len(g.acc))
	} else {
		for i, v := range values {
			g.acc[i] += v
		}
	}
	g.arrived++

	if g.arrived == g.size {
		g.result, g.resultErr = g.acc, g.accErr
		g.acc = nil
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
		return g.published()
	}

	for g.gen == myGen && g.aborted == nil {
		g.cond.Wait()
	}
	if g.gen == myGen {
		return nil, g.aborted
	}
	return g.published()
}

// published copies the last round's result. Caller holds mu.
func (g *localGroup) published() ([]float64, error) {
	if g.resultErr != nil {
		return nil, g.resultErr
	}
	out := make([]float64, len(g.result))
	copy(out, g.result)
	return out, nil
}

func (g *localGroup) abort(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.aborted == nil {
		g.aborted = err
	}
	g.cond.Broadcast()
}
