package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/roach88/phasetrain/internal/canonical"
	"github.com/roach88/phasetrain/internal/metrics"
)

// Result splits.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// Results holds the per-epoch meter summaries of every split.
type Results struct {
	Train map[int]map[string]metrics.Summary
	Test  map[int]map[string]metrics.Summary
}

// NewResults returns empty results.
func NewResults() *Results {
	return &Results{
		Train: make(map[int]map[string]metrics.Summary),
		Test:  make(map[int]map[string]metrics.Summary),
	}
}

// Record stores the summaries of split for epoch.
func (r *Results) Record(split string, epoch int, summaries map[string]metrics.Summary) {
	switch split {
	case SplitTrain:
		r.Train[epoch] = summaries
	case SplitTest:
		r.Test[epoch] = summaries
	}
}

// MarshalCanonical renders the results as canonical JSON:
//
//	{"test": {"<epoch>": {"<metric>": {"avg":..,"sum":..,"weight":..}}}, "train": {...}}
func (r *Results) MarshalCanonical() ([]byte, error) {
	return canonical.Marshal(map[string]any{
		SplitTrain: splitMap(r.Train),
		SplitTest:  splitMap(r.Test),
	})
}

func splitMap(epochs map[int]map[string]metrics.Summary) map[string]any {
	out := make(map[string]any, len(epochs))
	for epoch, summaries := range epochs {
		m := make(map[string]any, len(summaries))
		for name, s := range summaries {
			m[name] = map[string]any{
				"sum":    s.Sum,
				"weight": s.Weight,
				"avg":    s.Avg,
			}
		}
		out[strconv.Itoa(epoch)] = m
	}
	return out
}

// ResultFileName returns the result file name for a save name.
func ResultFileName(saveName string) string {
	if saveName == "" {
		return "result.json"
	}
	return "result_" + saveName + ".json"
}

// WriteFile writes the canonical results to dir.
func (r *Results) WriteFile(dir, saveName string) (string, error) {
	data, err := r.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create result dir: %w", err)
	}
	path := filepath.Join(dir, ResultFileName(saveName))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
