package schedule

import (
	"fmt"
	"sort"

	"github.com/roach88/phasetrain/internal/canonical"
)

// Schedule is a validated, immutable list of phases.
type Schedule struct {
	phases []Phase
	hash   string
}

// New validates phases and returns a Schedule.
//
// The input slice is copied and sorted by StartEpoch; IDs are assigned in
// sorted order and empty names default to "phase_<id>".
func New(phases []Phase) (*Schedule, error) {
	if len(phases) == 0 {
		return nil, &Error{Code: ErrCodeEmpty, Message: "schedule has no phases", Epoch: -1}
	}

	sorted := make([]Phase, len(phases))
	copy(sorted, phases)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartEpoch < sorted[j].StartEpoch
	})

	for i := range sorted {
		sorted[i].ID = i
		if sorted[i].Name == "" {
			sorted[i].Name = fmt.Sprintf("phase_%d", i)
		}
		if err := validatePhase(sorted[i]); err != nil {
			return nil, err
		}
	}

	if sorted[0].StartEpoch != 0 {
		return nil, newGapError(0)
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		switch {
		case cur.StartEpoch < prev.EndEpoch:
			return nil, newOverlapError(cur.StartEpoch, prev.Name, cur.Name)
		case cur.StartEpoch > prev.EndEpoch:
			return nil, newGapError(prev.EndEpoch)
		}
	}

	s := &Schedule{phases: sorted}
	hash, err := s.computeHash()
	if err != nil {
		return nil, err
	}
	s.hash = hash
	return s, nil
}

func validatePhase(p Phase) error {
	if p.StartEpoch < 0 || p.StartEpoch >= p.EndEpoch {
		return &Error{
			Code:    ErrCodeInvalidRange,
			Message: fmt.Sprintf("start_epoch %d must be >= 0 and < end_epoch %d", p.StartEpoch, p.EndEpoch),
			Epoch:   -1,
			Phase:   p.Name,
		}
	}
	checks := []struct {
		field string
		ok    bool
	}{
		{"data_size", p.DataSize > 0},
		{"crop_size", p.CropSize > 0},
		{"batch_size", p.BatchSize > 0},
		{"lr", p.LR >= 0},
		{"lr_end", p.LREnd >= 0},
	}
	for _, c := range checks {
		if !c.ok {
			return &Error{
				Code:    ErrCodeInvalidField,
				Message: fmt.Sprintf("%s out of range", c.field),
				Epoch:   -1,
				Phase:   p.Name,
			}
		}
	}
	return nil
}

// Lookup returns the phase active at epoch.
// Fails with a gap error for epochs outside [0, TotalEpochs()).
func (s *Schedule) Lookup(epoch int) (Phase, error) {
	i := sort.Search(len(s.phases), func(i int) bool {
		return s.phases[i].EndEpoch > epoch
	})
	if i == len(s.phases) || !s.phases[i].Contains(epoch) {
		return Phase{}, newGapError(epoch)
	}
	return s.phases[i], nil
}

// MustLookup is like Lookup but panics on error.
// Use only in tests or when the epoch is known to be in range.
func (s *Schedule) MustLookup(epoch int) Phase {
	p, err := s.Lookup(epoch)
	if err != nil {
		panic(err)
	}
	return p
}

// TotalEpochs returns the end epoch of the last phase.
func (s *Schedule) TotalEpochs() int {
	return s.phases[len(s.phases)-1].EndEpoch
}

// Phases returns a copy of the phases in order.
func (s *Schedule) Phases() []Phase {
	out := make([]Phase, len(s.phases))
	copy(out, s.phases)
	return out
}

// Len returns the number of phases.
func (s *Schedule) Len() int {
	return len(s.phases)
}

// Hash returns the canonical digest of the schedule.
// Checkpoints record it so a resume against an edited schedule can be detected.
func (s *Schedule) Hash() string {
	return s.hash
}

func (s *Schedule) computeHash() (string, error) {
	list := make([]any, len(s.phases))
	for i, p := range s.phases {
		list[i] = p.canonicalMap()
	}
	return canonical.Hash(canonical.DomainSchedule, map[string]any{"phases": list})
}
