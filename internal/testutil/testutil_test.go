package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrain/internal/data"
	"github.com/roach88/phasetrain/internal/metrics"
)

func TestConstantRunID(t *testing.T) {
	g := NewConstantRunID("")
	assert.Equal(t, "test-run-default", g.Generate())
	assert.Equal(t, "test-run-default", g.Generate())
	assert.Equal(t, "r1", NewConstantRunID("r1").Generate())
}

func TestFakePipeline_Shards(t *testing.T) {
	f := &FakeDatasets{TrainSize: 10, ValSize: 6, NumClasses: 3}
	p, err := f.BuildDataset(context.Background(), data.Spec{BatchSize: 2, Rank: 1, WorldSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, p.StepsPerEpoch())
	b, ok := p.Validation().Next()
	require.True(t, ok)
	assert.Equal(t, []int{1, 0}, b.Labels)
	assert.Equal(t, []float32{0, 3}, b.Inputs[1])
	assert.Len(t, f.Specs(), 1)
}

func TestFakeModel_ScriptedAccuracy(t *testing.T) {
	m := NewFakeModel(10, 20, 0.25, 0.5)
	f := &FakeDatasets{TrainSize: 20, ValSize: 20, NumClasses: 10}
	p, err := f.BuildDataset(context.Background(), data.Spec{BatchSize: 20, WorldSize: 1})
	require.NoError(t, err)
	batch, _ := p.Validation().Next()

	for _, want := range []float64{0.25, 0.5, 0.5} {
		m.SetTraining(false)
		got := metrics.TopK(m.Predict(batch.Inputs), batch.Labels, 1)
		assert.Equal(t, want, got)
		m.SetTraining(true)
	}
}
