package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrain/internal/collective"
)

func TestAggregator_UpdateAndGlobalAvg(t *testing.T) {
	a := NewAggregator(collective.Solo())

	a.Update("top1", 0.5, 10)
	a.Update("top1", 1.0, 30)

	m, ok := a.Meter("top1")
	require.True(t, ok)
	assert.InDelta(t, 35.0, m.Sum(), 1e-12)
	assert.InDelta(t, 40.0, m.Weight(), 1e-12)
	assert.InDelta(t, 35.0/40.0, a.GlobalAvg("top1"), 1e-12)
	assert.InDelta(t, 1.0, a.Value("top1"), 1e-12)
}

func TestAggregator_UnknownName(t *testing.T) {
	a := NewAggregator(collective.Solo())
	assert.Equal(t, 0.0, a.GlobalAvg("missing"))
	assert.Equal(t, 0.0, a.Value("missing"))
}

func TestAggregator_SyncAcrossWorkers(t *testing.T) {
	// Worker i contributes sum s_i over weight w_i.
	sums := []float64{3, 10, 0.5, 7}
	weights := []float64{4, 20, 1, 7}
	wantAvg := (3 + 10 + 0.5 + 7) / (4.0 + 20 + 1 + 7)

	members := collective.NewLocalGroup(len(sums))
	avgs := make([]float64, len(sums))

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, c collective.Collective) {
			defer wg.Done()
			a := NewAggregator(c)
			a.Update("loss", sums[i]/weights[i], weights[i])
			require.NoError(t, a.Sync(context.Background()))
			avgs[i] = a.GlobalAvg("loss")
		}(i, m)
	}
	wg.Wait()

	for i, avg := range avgs {
		assert.InDelta(t, wantAvg, avg, 1e-12, "worker %d", i)
	}
}

func TestAggregator_RepeatedSyncDoesNotDoubleCount(t *testing.T) {
	members := collective.NewLocalGroup(2)
	results := make([]Summary, 2)

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, c collective.Collective) {
			defer wg.Done()
			ctx := context.Background()
			a := NewAggregator(c)
			for step := 0; step < 3; step++ {
				a.Update("top1", float64(i), 2)
				require.NoError(t, a.Sync(ctx))
			}
			// A sync with nothing new must leave totals unchanged.
			require.NoError(t, a.Sync(ctx))
			m, _ := a.Meter("top1")
			results[i] = m.Summary()
		}(i, m)
	}
	wg.Wait()

	for i, s := range results {
		assert.InDelta(t, 12.0, s.Weight, 1e-12, "worker %d", i)
		assert.InDelta(t, 6.0, s.Sum, 1e-12, "worker %d", i)
		assert.InDelta(t, 0.5, s.Avg, 1e-12, "worker %d", i)
	}
}

func TestAggregator_ValueIsGroupAveragedAfterSync(t *testing.T) {
	members := collective.NewLocalGroup(2)
	values := make([]float64, 2)

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, c collective.Collective) {
			defer wg.Done()
			a := NewAggregator(c)
			a.Update("loss", float64(i+1), 1)
			require.NoError(t, a.Sync(context.Background()))
			values[i] = a.Value("loss")
		}(i, m)
	}
	wg.Wait()

	assert.InDelta(t, 1.5, values[0], 1e-12)
	assert.InDelta(t, 1.5, values[1], 1e-12)
}

func TestAggregator_MismatchedMeterSetsFail(t *testing.T) {
	members := collective.NewLocalGroup(2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, c collective.Collective) {
			defer wg.Done()
			a := NewAggregator(c)
			a.Update("loss", 1, 1)
			if i == 1 {
				a.Update("extra", 1, 1)
			}
			errs[i] = a.Sync(context.Background())
		}(i, m)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, collective.ErrLengthMismatch)
	}
}

func TestAggregator_ResetAndSnapshot(t *testing.T) {
	a := NewAggregator(collective.Solo())
	a.Update("b", 2, 1)
	a.Update("a", 4, 2)

	assert.Equal(t, []string{"a", "b"}, a.Names())
	snap := a.Snapshot()
	assert.Equal(t, Summary{Sum: 8, Weight: 2, Avg: 4}, snap["a"])
	assert.Equal(t, Summary{Sum: 2, Weight: 1, Avg: 2}, snap["b"])

	attrs := a.Format()
	assert.Equal(t, []any{"a", "4.0000 (4.0000)", "b", "2.0000 (2.0000)"}, attrs)

	a.Reset()
	assert.Empty(t, a.Names())
	assert.Empty(t, a.Snapshot())
}
