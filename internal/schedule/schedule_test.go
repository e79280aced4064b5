package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPhases() []Phase {
	return []Phase{
		{Name: "low", StartEpoch: 0, EndEpoch: 5, DataSize: 128, CropSize: 112, BatchSize: 64, LRScheduler: "cosine", LR: 0.1, LREnd: 0.01},
		{Name: "high", StartEpoch: 5, EndEpoch: 10, DataSize: 224, CropSize: 192, BatchSize: 128, LRScheduler: "linear", LR: 0.05, LREnd: 0},
	}
}

func TestNew_AssignsIDsInSortedOrder(t *testing.T) {
	phases := twoPhases()
	phases[0], phases[1] = phases[1], phases[0]

	s, err := New(phases)
	require.NoError(t, err)

	got := s.Phases()
	require.Len(t, got, 2)
	assert.Equal(t, "low", got[0].Name)
	assert.Equal(t, 0, got[0].ID)
	assert.Equal(t, "high", got[1].Name)
	assert.Equal(t, 1, got[1].ID)
	assert.Equal(t, 10, s.TotalEpochs())
}

func TestNew_DefaultNames(t *testing.T) {
	phases := twoPhases()
	phases[0].Name = ""
	s, err := New(phases)
	require.NoError(t, err)
	assert.Equal(t, "phase_0", s.MustLookup(0).Name)
}

func TestNew_DoesNotAliasInput(t *testing.T) {
	phases := twoPhases()
	s, err := New(phases)
	require.NoError(t, err)

	phases[0].BatchSize = 1
	assert.Equal(t, 64, s.MustLookup(0).BatchSize)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Phase) []Phase
		code   ErrorCode
	}{
		{"empty", func([]Phase) []Phase { return nil }, ErrCodeEmpty},
		{"overlap", func(p []Phase) []Phase { p[1].StartEpoch = 4; return p }, ErrCodeOverlap},
		{"gap between phases", func(p []Phase) []Phase { p[1].StartEpoch = 6; return p }, ErrCodeGap},
		{"gap at start", func(p []Phase) []Phase { p[0].StartEpoch = 1; return p }, ErrCodeGap},
		{"start equals end", func(p []Phase) []Phase { p[1].EndEpoch = 5; return p }, ErrCodeInvalidRange},
		{"negative start", func(p []Phase) []Phase { p[0].StartEpoch = -1; return p }, ErrCodeInvalidRange},
		{"zero batch", func(p []Phase) []Phase { p[0].BatchSize = 0; return p }, ErrCodeInvalidField},
		{"negative lr", func(p []Phase) []Phase { p[1].LR = -0.1; return p }, ErrCodeInvalidField},
		{"duplicate phase", func(p []Phase) []Phase { return append(p, p[1]) }, ErrCodeOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mutate(twoPhases()))
			require.Error(t, err)
			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestNew_OverlapHelper(t *testing.T) {
	phases := twoPhases()
	phases[1].StartEpoch = 3

	_, err := New(phases)
	assert.True(t, IsOverlapError(err))
	assert.False(t, IsGapError(err))
}

func TestLookup_EveryEpochHasExactlyOnePhase(t *testing.T) {
	phases := []Phase{
		{StartEpoch: 0, EndEpoch: 3, DataSize: 64, CropSize: 56, BatchSize: 256, LRScheduler: "constant", LR: 0.1},
		{StartEpoch: 3, EndEpoch: 4, DataSize: 128, CropSize: 112, BatchSize: 128, LRScheduler: "linear", LR: 0.1},
		{StartEpoch: 4, EndEpoch: 9, DataSize: 128, CropSize: 112, BatchSize: 128, LRScheduler: "cosine", LR: 0.05},
		{StartEpoch: 9, EndEpoch: 12, DataSize: 224, CropSize: 224, BatchSize: 64, LRScheduler: "exp", LR: 0.01, LREnd: 0.001},
	}
	s, err := New(phases)
	require.NoError(t, err)

	got := s.Phases()
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].EndEpoch, got[i].StartEpoch, "phases must be contiguous")
	}

	for epoch := 0; epoch < s.TotalEpochs(); epoch++ {
		covering := 0
		for _, p := range got {
			if p.Contains(epoch) {
				covering++
			}
		}
		assert.Equal(t, 1, covering, "epoch %d", epoch)

		p, err := s.Lookup(epoch)
		require.NoError(t, err)
		assert.True(t, p.Contains(epoch), "epoch %d resolved to %s", epoch, p)
	}
}

func TestLookup_OutOfRange(t *testing.T) {
	s, err := New(twoPhases())
	require.NoError(t, err)

	for _, epoch := range []int{-1, 10, 100} {
		_, err := s.Lookup(epoch)
		assert.True(t, IsGapError(err), "epoch %d", epoch)
	}
}

func TestSameDataset(t *testing.T) {
	a := twoPhases()[0]
	b := a
	b.LR = 0.5
	b.ID = 3
	assert.True(t, a.SameDataset(b))

	b.CropSize = 96
	assert.False(t, a.SameDataset(b))
}

func TestHash_StableAcrossInputOrder(t *testing.T) {
	a, err := New(twoPhases())
	require.NoError(t, err)

	reversed := twoPhases()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	b, err := New(reversed)
	require.NoError(t, err)

	assert.Equal(t, a.Hash(), b.Hash())

	changed := twoPhases()
	changed[1].LREnd = 0.001
	c, err := New(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), c.Hash())
}
