package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the slot has never been written. Resume treats it as
	// a cold start.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt means the slot exists but cannot be decoded or fails its
	// digest check.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

// Tensor is one named model parameter.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Size returns the element count implied by Shape.
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Clone returns a deep copy of t.
func (t Tensor) Clone() Tensor {
	out := Tensor{Name: t.Name}
	out.Shape = append([]int(nil), t.Shape...)
	out.Data = append([]float32(nil), t.Data...)
	return out
}

// Checkpoint is the persisted training state.
//
// Epoch is the next epoch to run: a checkpoint written after finishing epoch
// e stores e+1.
type Checkpoint struct {
	Epoch          int      `json:"epoch"`
	BestScore      float64  `json:"best_score"`
	Model          []Tensor `json:"model"`
	OptimizerState []byte   `json:"optimizer_state,omitempty"`

	// SkippedInPhase counts scheduler advances skipped for instability since
	// the start of the active phase.
	SkippedInPhase int `json:"skipped_in_phase"`

	RunID        string `json:"run_id,omitempty"`
	ScheduleHash string `json:"schedule_hash,omitempty"`
}

// ShapeMismatchError reports a tensor whose persisted shape differs from the
// model's.
type ShapeMismatchError struct {
	Name     string
	Expected []int
	Got      []int
}

func (e *ShapeMismatchError) Error() string {
	if e.Expected == nil {
		return fmt.Sprintf("checkpoint: unexpected tensor %q", e.Name)
	}
	if e.Got == nil {
		return fmt.Sprintf("checkpoint: missing tensor %q", e.Name)
	}
	return fmt.Sprintf("checkpoint: tensor %q shape %v, model expects %v", e.Name, e.Got, e.Expected)
}

// IsShapeMismatch reports whether err is a ShapeMismatchError.
func IsShapeMismatch(err error) bool {
	var sme *ShapeMismatchError
	return errors.As(err, &sme)
}

// ValidateShapes checks loaded tensors against the model's expected tensors,
// matched by name. Any missing, extra, or differently shaped tensor fails.
func ValidateShapes(expected, loaded []Tensor) error {
	byName := make(map[string]Tensor, len(loaded))
	for _, t := range loaded {
		byName[t.Name] = t
	}

	for _, want := range expected {
		got, ok := byName[want.Name]
		if !ok {
			return &ShapeMismatchError{Name: want.Name, Expected: want.Shape}
		}
		if !equalShape(want.Shape, got.Shape) {
			return &ShapeMismatchError{Name: want.Name, Expected: want.Shape, Got: got.Shape}
		}
		if len(got.Data) != got.Size() {
			return fmt.Errorf("%w: tensor %q has %d values for shape %v",
				ErrCorrupt, got.Name, len(got.Data), got.Shape)
		}
		delete(byName, want.Name)
	}

	for _, t := range loaded {
		if _, extra := byName[t.Name]; extra {
			return &ShapeMismatchError{Name: t.Name, Got: t.Shape}
		}
	}
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SlotLatest is the unnamed slot, written periodically.
const SlotLatest = ""

// SlotBest holds the checkpoint with the highest validation score.
const SlotBest = "best"

// EpochSlot names the slot written at the end of a run of the given length.
func EpochSlot(epoch int) string {
	return fmt.Sprintf("epoch_%03d", epoch)
}

// FileName returns the file name backing slot.
func FileName(slot string) string {
	if slot == SlotLatest {
		return "ckpt.json"
	}
	return "ckpt_" + slot + ".json"
}

func validateSlot(slot string) error {
	if slot == SlotLatest {
		return nil
	}
	if strings.IndexFunc(slot, func(r rune) bool {
		return !(r == '_' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) >= 0 || strings.Contains(slot, "..") {
		return fmt.Errorf("checkpoint: invalid slot name %q", slot)
	}
	return nil
}
