package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/phasetrain/internal/data"
)

// Each generated sample is [label, index]; FakeModel reads both back.
const (
	featLabel = 0
	featIndex = 1
)

// FakeDatasets builds FakePipelines and records every spec it was given.
type FakeDatasets struct {
	TrainSize  int
	ValSize    int
	NumClasses int

	mu    sync.Mutex
	specs []data.Spec
}

// BuildDataset implements reconfig.DatasetBuilder.
func (f *FakeDatasets) BuildDataset(_ context.Context, spec data.Spec) (data.Pipeline, error) {
	if spec.BatchSize < 1 || spec.WorldSize < 1 {
		return nil, fmt.Errorf("fake datasets: bad spec %+v", spec)
	}
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return &FakePipeline{cfg: f, spec: spec}, nil
}

// Specs returns the specs built so far.
func (f *FakeDatasets) Specs() []data.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]data.Spec(nil), f.specs...)
}

// FakePipeline serves strided shards of sequential samples.
type FakePipeline struct {
	cfg  *FakeDatasets
	spec data.Spec
}

func (p *FakePipeline) shard(total int) []int {
	n := (total + p.spec.WorldSize - 1) / p.spec.WorldSize
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, (p.spec.Rank+i*p.spec.WorldSize)%total)
	}
	return out
}

// StepsPerEpoch implements data.Pipeline.
func (p *FakePipeline) StepsPerEpoch() int {
	n := (p.cfg.TrainSize + p.spec.WorldSize - 1) / p.spec.WorldSize
	return (n + p.spec.BatchSize - 1) / p.spec.BatchSize
}

// Train implements data.Pipeline.
func (p *FakePipeline) Train(int) data.Stream {
	return data.NewSliceStream(p.batches(p.shard(p.cfg.TrainSize)))
}

// Validation implements data.Pipeline.
func (p *FakePipeline) Validation() data.Stream {
	return data.NewSliceStream(p.batches(p.shard(p.cfg.ValSize)))
}

func (p *FakePipeline) batches(indices []int) []data.Batch {
	var out []data.Batch
	for start := 0; start < len(indices); start += p.spec.BatchSize {
		end := min(start+p.spec.BatchSize, len(indices))
		var b data.Batch
		for _, idx := range indices[start:end] {
			label := idx % p.cfg.NumClasses
			b.Inputs = append(b.Inputs, []float32{float32(label), float32(idx)})
			b.Labels = append(b.Labels, label)
		}
		out = append(out, b)
	}
	return out
}
