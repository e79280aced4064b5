package data

// Batch is one minibatch. Inputs[i] is a flat sample of CropSize values and
// Labels[i] its class index.
type Batch struct {
	Inputs [][]float32
	Labels []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Labels) }

// Stream yields batches until exhausted.
type Stream interface {
	Next() (Batch, bool)
}

// Spec is the resource configuration of a pipeline. Rank and WorldSize select
// this worker's shard.
type Spec struct {
	DataSize  int
	CropSize  int
	BatchSize int
	Rank      int
	WorldSize int
}

// Pipeline serves the training and validation splits of one phase.
type Pipeline interface {
	// StepsPerEpoch is the number of training batches each worker runs per
	// epoch. Every worker reports the same value.
	StepsPerEpoch() int

	// Train returns the training stream for epoch. The shuffle order is a
	// function of epoch so resumed runs see the same batches.
	Train(epoch int) Stream

	// Validation returns the held-out stream.
	Validation() Stream
}

// SliceStream serves a fixed list of batches.
type SliceStream struct {
	batches []Batch
	pos     int
}

// NewSliceStream returns a stream over batches.
func NewSliceStream(batches []Batch) *SliceStream {
	return &SliceStream{batches: batches}
}

// Next implements Stream.
func (s *SliceStream) Next() (Batch, bool) {
	if s.pos >= len(s.batches) {
		return Batch{}, false
	}
	b := s.batches[s.pos]
	s.pos++
	return b, true
}
