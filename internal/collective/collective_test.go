package collective

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGroup_AllReduceSums(t *testing.T) {
	const n = 4
	members := NewLocalGroup(n)
	results := make([][]float64, n)

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m Collective) {
			defer wg.Done()
			out, err := m.AllReduce(context.Background(), []float64{float64(i), 1})
			require.NoError(t, err)
			results[i] = out
		}(i, m)
	}
	wg.Wait()

	for i := range results {
		assert.Equal(t, []float64{0 + 1 + 2 + 3, n}, results[i], "rank %d", i)
	}
}

func TestLocalGroup_ManyRounds(t *testing.T) {
	const n, rounds = 3, 200
	members := NewLocalGroup(n)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, m := range members {
		wg.Add(1)
		go func(m Collective) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				out, err := m.AllReduce(context.Background(), []float64{float64(r)})
				if err != nil {
					errs <- err
					return
				}
				if out[0] != float64(r*n) {
					errs <- errors.New("round result corrupted by a later round")
					return
				}
			}
		}(m)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestLocalGroup_RankAndSize(t *testing.T) {
	members := NewLocalGroup(3)
	for i, m := range members {
		assert.Equal(t, i, m.Rank())
		assert.Equal(t, 3, m.WorldSize())
	}
	assert.True(t, IsPrimary(members[0]))
	assert.False(t, IsPrimary(members[2]))
}

func TestLocalGroup_LengthMismatchFailsEveryone(t *testing.T) {
	members := NewLocalGroup(2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m Collective) {
			defer wg.Done()
			_, errs[i] = m.AllReduce(context.Background(), make([]float64, i+1))
		}(i, m)
	}
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, ErrLengthMismatch, "rank %d", i)
	}
}

func TestLocalGroup_CancelAbortsGroup(t *testing.T) {
	members := NewLocalGroup(2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		// Rank 0 waits for a peer that never arrives.
		_, err := members[0].AllReduce(ctx, []float64{1})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrGroupAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked member was not released by cancellation")
	}

	// The group stays poisoned for the other member.
	_, err := members[1].AllReduce(context.Background(), []float64{1})
	assert.ErrorIs(t, err, ErrGroupAborted)
}

func TestBarrier(t *testing.T) {
	members := NewLocalGroup(3)
	var mu sync.Mutex
	arrived := 0

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m Collective) {
			defer wg.Done()
			mu.Lock()
			arrived++
			mu.Unlock()
			require.NoError(t, m.Barrier(context.Background()))
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 3, arrived, "barrier released before everyone arrived")
		}(m)
	}
	wg.Wait()
}

func TestAnyTrue(t *testing.T) {
	members := NewLocalGroup(3)
	results := make([]bool, 3)

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m Collective) {
			defer wg.Done()
			var err error
			results[i], err = AnyTrue(context.Background(), m, i == 2)
			require.NoError(t, err)
		}(i, m)
	}
	wg.Wait()
	assert.Equal(t, []bool{true, true, true}, results)
}

func TestSolo(t *testing.T) {
	c := Solo()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.WorldSize())

	in := []float64{1, 2}
	out, err := c.AllReduce(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	out[0] = 9
	assert.Equal(t, 1.0, in[0], "solo must not alias its input")
}

func TestLaunch_RunsEveryRank(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}

	err := Launch(context.Background(), 4, func(ctx context.Context, c Collective) error {
		out, err := c.AllReduce(ctx, []float64{1})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		seen[c.Rank()] = out[0] == 4
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, seen)
}

func TestLaunch_FirstErrorReleasesBlockedPeers(t *testing.T) {
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- Launch(context.Background(), 3, func(ctx context.Context, c Collective) error {
			if c.Rank() == 1 {
				return boom
			}
			_, err := c.AllReduce(ctx, []float64{1})
			return err
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("Launch deadlocked after a worker failed")
	}
}

func TestLaunch_InvalidCount(t *testing.T) {
	err := Launch(context.Background(), 0, func(context.Context, Collective) error { return nil })
	require.Error(t, err)
}
