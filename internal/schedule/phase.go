package schedule

import "fmt"

// Phase is a contiguous epoch range with a fixed resource configuration.
// EndEpoch is exclusive.
type Phase struct {
	// ID is the phase's position in the sorted schedule. Assigned by New.
	ID int `yaml:"-" json:"-"`

	Name        string  `yaml:"name,omitempty" json:"name,omitempty"`
	StartEpoch  int     `yaml:"start_epoch" json:"start_epoch"`
	EndEpoch    int     `yaml:"end_epoch" json:"end_epoch"`
	DataSize    int     `yaml:"data_size" json:"data_size"`
	CropSize    int     `yaml:"crop_size" json:"crop_size"`
	BatchSize   int     `yaml:"batch_size" json:"batch_size"`
	LRScheduler string  `yaml:"lr_scheduler" json:"lr_scheduler"`
	LR          float64 `yaml:"lr" json:"lr"`
	LREnd       float64 `yaml:"lr_end" json:"lr_end"`
}

// Epochs returns the number of epochs in the phase.
func (p Phase) Epochs() int {
	return p.EndEpoch - p.StartEpoch
}

// Contains reports whether epoch falls inside the phase.
func (p Phase) Contains(epoch int) bool {
	return epoch >= p.StartEpoch && epoch < p.EndEpoch
}

// SameDataset reports whether both phases can share one dataset pipeline.
func (p Phase) SameDataset(other Phase) bool {
	return p.DataSize == other.DataSize &&
		p.CropSize == other.CropSize &&
		p.BatchSize == other.BatchSize
}

func (p Phase) String() string {
	return fmt.Sprintf("%s[%d,%d) data=%d crop=%d batch=%d lr=%s(%g->%g)",
		p.Name, p.StartEpoch, p.EndEpoch, p.DataSize, p.CropSize, p.BatchSize,
		p.LRScheduler, p.LR, p.LREnd)
}

// canonicalMap returns the phase as a map for canonical hashing.
func (p Phase) canonicalMap() map[string]any {
	return map[string]any{
		"name":         p.Name,
		"start_epoch":  p.StartEpoch,
		"end_epoch":    p.EndEpoch,
		"data_size":    p.DataSize,
		"crop_size":    p.CropSize,
		"batch_size":   p.BatchSize,
		"lr_scheduler": p.LRScheduler,
		"lr":           p.LR,
		"lr_end":       p.LREnd,
	}
}
