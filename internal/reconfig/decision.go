package reconfig

import (
	"fmt"

	"github.com/roach88/phasetrain/internal/schedule"
)

// Decision is the reconfiguration to perform before running Epoch.
type Decision struct {
	Epoch    int
	Phase    schedule.Phase
	Previous *schedule.Phase

	RebuildDataset   bool
	RebuildOptimizer bool

	// Resume marks a cold rebuild performed while restoring a checkpoint.
	Resume bool
}

// None reports whether nothing needs rebuilding.
func (d Decision) None() bool {
	return !d.RebuildDataset && !d.RebuildOptimizer
}

// ColdStart reports whether the decision rebuilds from nothing.
func (d Decision) ColdStart() bool {
	return d.Previous == nil
}

func (d Decision) String() string {
	switch {
	case d.None():
		return fmt.Sprintf("epoch %d: keep %s", d.Epoch, d.Phase.Name)
	case d.Resume:
		return fmt.Sprintf("epoch %d: resume into %s", d.Epoch, d.Phase.Name)
	case d.ColdStart():
		return fmt.Sprintf("epoch %d: cold start %s", d.Epoch, d.Phase.Name)
	default:
		return fmt.Sprintf("epoch %d: switch %s -> %s (dataset=%t optimizer=%t)",
			d.Epoch, d.Previous.Name, d.Phase.Name, d.RebuildDataset, d.RebuildOptimizer)
	}
}

// Decide returns the reconfiguration needed to go from prev to cur. A nil prev
// means no phase has run yet.
func Decide(prev *schedule.Phase, cur schedule.Phase) Decision {
	d := Decision{Phase: cur}
	if prev == nil {
		d.RebuildDataset = true
		d.RebuildOptimizer = true
		return d
	}

	p := *prev
	d.Previous = &p
	if p.ID == cur.ID {
		return d
	}
	d.RebuildDataset = !p.SameDataset(cur)
	d.RebuildOptimizer = true
	return d
}

// Plan returns the decision for epoch, deriving the previous phase from the
// schedule.
func Plan(sched *schedule.Schedule, epoch int) (Decision, error) {
	cur, err := sched.Lookup(epoch)
	if err != nil {
		return Decision{}, err
	}

	var prev *schedule.Phase
	if epoch > 0 {
		p, err := sched.Lookup(epoch - 1)
		if err != nil {
			return Decision{}, err
		}
		prev = &p
	}

	d := Decide(prev, cur)
	d.Epoch = epoch
	return d, nil
}

// PlanResume returns a cold rebuild of the phase active at epoch, as used when
// restoring a checkpoint.
func PlanResume(sched *schedule.Schedule, epoch int) (Decision, error) {
	cur, err := sched.Lookup(epoch)
	if err != nil {
		return Decision{}, err
	}
	d := Decide(nil, cur)
	d.Epoch = epoch
	d.Resume = true
	return d, nil
}

// PlanAll returns the decision for every epoch of the schedule in order.
func PlanAll(sched *schedule.Schedule) ([]Decision, error) {
	out := make([]Decision, 0, sched.TotalEpochs())
	for epoch := 0; epoch < sched.TotalEpochs(); epoch++ {
		d, err := Plan(sched, epoch)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
