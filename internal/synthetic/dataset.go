package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/roach88/phasetrain/internal/data"
)

// DatasetConfig sizes the generated dataset.
type DatasetConfig struct {
	NumClasses int
	TrainSize  int
	ValSize    int
	Seed       uint64

	// Noise is the standard deviation of per-sample additive noise.
	Noise float64
}

// DatasetBuilder implements reconfig.DatasetBuilder.
type DatasetBuilder struct {
	cfg DatasetConfig
}

// NewDatasetBuilder returns a builder for cfg.
func NewDatasetBuilder(cfg DatasetConfig) (*DatasetBuilder, error) {
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("synthetic: need at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.TrainSize < 1 || cfg.ValSize < 1 {
		return nil, fmt.Errorf("synthetic: train and val sizes must be positive, got %d and %d", cfg.TrainSize, cfg.ValSize)
	}
	return &DatasetBuilder{cfg: cfg}, nil
}

// BuildDataset implements reconfig.DatasetBuilder.
func (b *DatasetBuilder) BuildDataset(_ context.Context, spec data.Spec) (data.Pipeline, error) {
	switch {
	case spec.DataSize < 1 || spec.CropSize < 1 || spec.BatchSize < 1:
		return nil, fmt.Errorf("synthetic: sizes must be positive: %+v", spec)
	case spec.CropSize > spec.DataSize:
		return nil, fmt.Errorf("synthetic: crop %d exceeds data size %d", spec.CropSize, spec.DataSize)
	case spec.WorldSize < 1 || spec.Rank < 0 || spec.Rank >= spec.WorldSize:
		return nil, fmt.Errorf("synthetic: rank %d out of world %d", spec.Rank, spec.WorldSize)
	}
	return &pipeline{cfg: b.cfg, spec: spec}, nil
}

type pipeline struct {
	cfg  DatasetConfig
	spec data.Spec
}

// shardLen is the per-worker sample count. Shards are padded by wrapping so
// every worker runs the same number of steps.
func shardLen(total, world int) int {
	return (total + world - 1) / world
}

func (p *pipeline) StepsPerEpoch() int {
	n := shardLen(p.cfg.TrainSize, p.spec.WorldSize)
	return (n + p.spec.BatchSize - 1) / p.spec.BatchSize
}

func (p *pipeline) Train(epoch int) data.Stream {
	total := p.cfg.TrainSize
	perm := rand.New(rand.NewPCG(p.cfg.Seed, uint64(epoch)+1)).Perm(total)
	return &stream{
		p:       p,
		indices: shard(perm, p.spec.Rank, p.spec.WorldSize),
		epoch:   epoch,
		train:   true,
	}
}

// Validation serves the validation split in index order. Like the training
// shards it is padded by wrapping when ValSize is not a multiple of the world
// size, so up to WorldSize-1 samples are scored twice in the group-wide
// accuracy.
func (p *pipeline) Validation() data.Stream {
	total := p.cfg.ValSize
	order := make([]int, total)
	for i := range order {
		order[i] = i
	}
	return &stream{
		p:       p,
		indices: shard(order, p.spec.Rank, p.spec.WorldSize),
	}
}

// shard picks every world-th index starting at rank, wrapping to pad.
func shard(order []int, rank, world int) []int {
	n := shardLen(len(order), world)
	out := make([]int, n)
	for i := range out {
		out[i] = order[(rank+i*world)%len(order)]
	}
	return out
}

type stream struct {
	p       *pipeline
	indices []int
	pos     int
	epoch   int
	train   bool
}

func (s *stream) Next() (data.Batch, bool) {
	if s.pos >= len(s.indices) {
		return data.Batch{}, false
	}
	end := min(s.pos+s.p.spec.BatchSize, len(s.indices))
	batch := data.Batch{
		Inputs: make([][]float32, 0, end-s.pos),
		Labels: make([]int, 0, end-s.pos),
	}
	for _, idx := range s.indices[s.pos:end] {
		x, y := s.p.sample(idx, s.epoch, s.train)
		batch.Inputs = append(batch.Inputs, x)
		batch.Labels = append(batch.Labels, y)
	}
	s.pos = end
	return batch, true
}

// sample renders sample idx at the pipeline's resolution and crops it.
// Training crops at a random offset chosen per (epoch, idx); validation crops
// the center.
func (p *pipeline) sample(idx, epoch int, train bool) ([]float32, int) {
	stream := uint64(idx) << 1
	if !train {
		stream |= 1
	}
	rng := rand.New(rand.NewPCG(p.cfg.Seed^0x9e3779b97f4a7c15, stream))
	label := rng.IntN(p.cfg.NumClasses)

	full := make([]float32, p.spec.DataSize)
	freq := float64(label + 1)
	phase := float64(label)
	for i := range full {
		x := (float64(i) + 0.5) / float64(p.spec.DataSize)
		full[i] = float32(math.Sin(2*math.Pi*freq*x+phase) + p.cfg.Noise*rng.NormFloat64())
	}

	slack := p.spec.DataSize - p.spec.CropSize
	off := slack / 2
	if train && slack > 0 {
		crop := rand.New(rand.NewPCG(p.cfg.Seed, uint64(epoch)<<32|uint64(idx)))
		off = crop.IntN(slack + 1)
	}
	return full[off : off+p.spec.CropSize], label
}
