package synthetic

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/collective"
	"github.com/roach88/phasetrain/internal/data"
	"github.com/roach88/phasetrain/internal/optim"
	"github.com/roach88/phasetrain/internal/trainer"
)

func testConfig() DatasetConfig {
	return DatasetConfig{NumClasses: 4, TrainSize: 100, ValSize: 30, Seed: 7, Noise: 0.1}
}

func buildPipeline(t *testing.T, spec data.Spec) data.Pipeline {
	t.Helper()
	b, err := NewDatasetBuilder(testConfig())
	require.NoError(t, err)
	p, err := b.BuildDataset(context.Background(), spec)
	require.NoError(t, err)
	return p
}

func drain(s data.Stream) []data.Batch {
	var out []data.Batch
	for {
		b, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestDataset_StepsPerEpoch(t *testing.T) {
	tests := []struct {
		batch, world, want int
	}{
		{10, 1, 10},
		{32, 1, 4},
		{10, 3, 4}, // shard of 34
		{64, 2, 1},
	}
	for _, tt := range tests {
		p := buildPipeline(t, data.Spec{DataSize: 32, CropSize: 24, BatchSize: tt.batch, WorldSize: tt.world})
		assert.Equal(t, tt.want, p.StepsPerEpoch(), "batch=%d world=%d", tt.batch, tt.world)
		assert.Len(t, drain(p.Train(0)), tt.want)
	}
}

func TestDataset_DeterministicPerEpoch(t *testing.T) {
	spec := data.Spec{DataSize: 32, CropSize: 24, BatchSize: 16, WorldSize: 1}
	a := drain(buildPipeline(t, spec).Train(3))
	b := drain(buildPipeline(t, spec).Train(3))
	c := drain(buildPipeline(t, spec).Train(4))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0].Labels, c[0].Labels)
}

func TestDataset_CropSize(t *testing.T) {
	p := buildPipeline(t, data.Spec{DataSize: 40, CropSize: 24, BatchSize: 8, WorldSize: 1})
	for _, b := range drain(p.Validation()) {
		for _, x := range b.Inputs {
			assert.Len(t, x, 24)
		}
	}
}

func TestShard_CoversEveryIndex(t *testing.T) {
	order := []int{4, 0, 3, 1, 2, 5}

	seen := map[int]bool{}
	for rank := 0; rank < 3; rank++ {
		part := shard(order, rank, 3)
		assert.Len(t, part, 2)
		for _, idx := range part {
			seen[idx] = true
		}
	}
	assert.Len(t, seen, 6)

	// Uneven splits pad by wrapping so every rank gets the same length.
	assert.Equal(t, []int{4, 3, 2}, shard(order[:5], 0, 2))
	assert.Equal(t, []int{0, 1, 4}, shard(order[:5], 1, 2))
}

func TestDataset_ValidationPadsUnevenShards(t *testing.T) {
	// 30 validation samples over 4 workers: 8 per shard, 2 scored twice.
	var inputs [][]float32
	for rank := 0; rank < 4; rank++ {
		p := buildPipeline(t, data.Spec{DataSize: 32, CropSize: 24, BatchSize: 5, Rank: rank, WorldSize: 4})
		n := 0
		for _, b := range drain(p.Validation()) {
			n += b.Len()
			inputs = append(inputs, b.Inputs...)
		}
		assert.Equal(t, 8, n, "rank %d", rank)
	}
	require.Len(t, inputs, 32)
	// Ranks 2 and 3 wrap around to samples 0 and 1.
	assert.Equal(t, inputs[0], inputs[23])
	assert.Equal(t, inputs[8], inputs[31])
}

func TestDataset_InvalidSpec(t *testing.T) {
	b, err := NewDatasetBuilder(testConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.BuildDataset(ctx, data.Spec{DataSize: 16, CropSize: 32, BatchSize: 8, WorldSize: 1})
	assert.Error(t, err)
	_, err = b.BuildDataset(ctx, data.Spec{DataSize: 16, CropSize: 16, BatchSize: 0, WorldSize: 1})
	assert.Error(t, err)
	_, err = b.BuildDataset(ctx, data.Spec{DataSize: 16, CropSize: 16, BatchSize: 8, Rank: 2, WorldSize: 2})
	assert.Error(t, err)

	_, err = NewDatasetBuilder(DatasetConfig{NumClasses: 1, TrainSize: 1, ValSize: 1})
	assert.Error(t, err)
}

func TestPool(t *testing.T) {
	assert.Equal(t, []float32{1.5, 3.5}, pool([]float32{1, 2, 3, 4}, 2))
	// Overlapping bins when the input is shorter than the width.
	assert.Equal(t, []float32{1, 1.5, 2}, pool([]float32{1, 2}, 3))
}

func TestSoftmax_ParametersIndependentOfCrop(t *testing.T) {
	m, err := NewSoftmax(DefaultFeatures, 4, 1)
	require.NoError(t, err)

	small := m.Predict([][]float32{make([]float32, 16)})
	large := m.Predict([][]float32{make([]float32, 64)})
	assert.Len(t, small[0], 4)
	assert.Len(t, large[0], 4)

	params := m.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, []int{4, DefaultFeatures}, params[0].Shape)
	assert.Equal(t, []int{4}, params[1].Shape)
}

func TestSoftmax_LoadParameters(t *testing.T) {
	src, err := NewSoftmax(8, 3, 1)
	require.NoError(t, err)
	dst, err := NewSoftmax(8, 3, 2)
	require.NoError(t, err)

	require.NoError(t, dst.LoadParameters(src.Parameters()))
	assert.Equal(t, src.Parameters(), dst.Parameters())

	wrong, err := NewSoftmax(8, 5, 1)
	require.NoError(t, err)
	err = dst.LoadParameters(wrong.Parameters())
	assert.True(t, checkpoint.IsShapeMismatch(err))
}

func TestStepper_LearnsAndReportsStable(t *testing.T) {
	ctx := context.Background()
	p := buildPipeline(t, data.Spec{DataSize: 32, CropSize: 32, BatchSize: 20, WorldSize: 1})
	m, err := NewSoftmax(DefaultFeatures, 4, 3)
	require.NoError(t, err)
	s := NewStepper(m, nil)
	opt := optim.NewSGD(0.9, 0)

	var first, last float64
	for epoch := 0; epoch < 15; epoch++ {
		stream := p.Train(epoch)
		for step := 0; ; step++ {
			b, ok := stream.Next()
			if !ok {
				break
			}
			res, err := s.Step(ctx, trainer.StepIndex{Epoch: epoch, Step: step}, b, opt, 0.1)
			require.NoError(t, err)
			assert.True(t, res.Stable)
			assert.Len(t, res.Logits, b.Len())
			if epoch == 0 && step == 0 {
				first = res.Loss
			}
			last = res.Loss
		}
	}
	assert.Less(t, last, first)
}

func TestStepper_ForcedOverflowSkipsUpdate(t *testing.T) {
	ctx := context.Background()
	p := buildPipeline(t, data.Spec{DataSize: 16, CropSize: 16, BatchSize: 10, WorldSize: 1})
	m, err := NewSoftmax(DefaultFeatures, 4, 3)
	require.NoError(t, err)
	s := NewStepper(m, nil)
	s.ForceOverflow = func(at trainer.StepIndex) bool { return at.Step == 0 }

	before := m.Parameters()
	b, _ := p.Train(0).Next()
	res, err := s.Step(ctx, trainer.StepIndex{}, b, optim.NewSGD(0, 0), 0.1)
	require.NoError(t, err)

	assert.False(t, res.Stable)
	assert.Equal(t, DefaultInitScale/2, s.Scale())
	assert.Equal(t, before, m.Parameters())
}

func TestStepper_WorkersStayInSync(t *testing.T) {
	const world = 2
	members := collective.NewLocalGroup(world)
	params := make([][]checkpoint.Tensor, world)

	var wg sync.WaitGroup
	for rank, c := range members {
		wg.Add(1)
		go func(rank int, c collective.Collective) {
			defer wg.Done()
			ctx := context.Background()
			p := buildPipeline(t, data.Spec{DataSize: 16, CropSize: 16, BatchSize: 10, Rank: rank, WorldSize: world})
			m, err := NewSoftmax(DefaultFeatures, 4, 3)
			require.NoError(t, err)
			s := NewStepper(m, c)
			opt := optim.NewSGD(0.9, 0)

			stream := p.Train(0)
			for step := 0; ; step++ {
				b, ok := stream.Next()
				if !ok {
					break
				}
				_, err := s.Step(ctx, trainer.StepIndex{Step: step}, b, opt, 0.1)
				require.NoError(t, err)
			}
			params[rank] = m.Parameters()
		}(rank, c)
	}
	wg.Wait()

	assert.Equal(t, params[0], params[1])
}
