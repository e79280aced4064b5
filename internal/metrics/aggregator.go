package metrics

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/phasetrain/internal/collective"
)

// Summary is the persisted form of one meter.
type Summary struct {
	Sum    float64 `json:"sum"`
	Weight float64 `json:"weight"`
	Avg    float64 `json:"avg"`
}

// Meter accumulates observations for one metric name.
type Meter struct {
	name string

	pendingSum    float64
	pendingWeight float64
	syncedSum     float64
	syncedWeight  float64

	// Most recent observation as value*weight / weight so the last step
	// can be averaged across workers too.
	lastSum    float64
	lastWeight float64
}

// Name returns the metric name.
func (m *Meter) Name() string { return m.name }

// Sum returns the running weighted sum (synced plus not-yet-synced).
func (m *Meter) Sum() float64 { return m.syncedSum + m.pendingSum }

// Weight returns the running weight (synced plus not-yet-synced).
func (m *Meter) Weight() float64 { return m.syncedWeight + m.pendingWeight }

// GlobalAvg returns Sum/Weight, or 0 when nothing was observed.
func (m *Meter) GlobalAvg() float64 {
	w := m.Weight()
	if w == 0 {
		return 0
	}
	return m.Sum() / w
}

// Value returns the most recent observation (group-averaged after Sync).
func (m *Meter) Value() float64 {
	if m.lastWeight == 0 {
		return 0
	}
	return m.lastSum / m.lastWeight
}

// Summary returns the persisted form of the meter.
func (m *Meter) Summary() Summary {
	return Summary{Sum: m.Sum(), Weight: m.Weight(), Avg: m.GlobalAvg()}
}

// Aggregator holds the meters of one worker.
//
// Not safe for concurrent use; each worker owns its own Aggregator.
type Aggregator struct {
	comm   collective.Collective
	meters map[string]*Meter
}

// NewAggregator creates an Aggregator that synchronizes through comm.
func NewAggregator(comm collective.Collective) *Aggregator {
	return &Aggregator{
		comm:   comm,
		meters: make(map[string]*Meter),
	}
}

// Update records value with the given weight under name, creating the
// meter on first use.
func (a *Aggregator) Update(name string, value, weight float64) {
	m, ok := a.meters[name]
	if !ok {
		m = &Meter{name: name}
		a.meters[name] = m
	}
	m.pendingSum += value * weight
	m.pendingWeight += weight
	m.lastSum = value * weight
	m.lastWeight = weight
}

// Meter returns the meter registered under name.
func (a *Aggregator) Meter(name string) (*Meter, bool) {
	m, ok := a.meters[name]
	return m, ok
}

// GlobalAvg returns the running average of name, or 0 for an unknown name.
func (a *Aggregator) GlobalAvg(name string) float64 {
	if m, ok := a.meters[name]; ok {
		return m.GlobalAvg()
	}
	return 0
}

// Value returns the latest observation of name, or 0 for an unknown name.
func (a *Aggregator) Value(name string) float64 {
	if m, ok := a.meters[name]; ok {
		return m.Value()
	}
	return 0
}

// Names returns the meter names in sorted order.
func (a *Aggregator) Names() []string {
	names := make([]string, 0, len(a.meters))
	for name := range a.meters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sync reduces the pending totals of every meter across the group.
//
// Meters are packed in sorted name order, four slots each:
// [pendingSum, pendingWeight, lastSum, lastWeight]. A worker whose meter set
// differs from its peers produces a vector of a different length, which the
// group reports as an error on every worker.
func (a *Aggregator) Sync(ctx context.Context) error {
	names := a.Names()
	vec := make([]float64, 0, 4*len(names))
	for _, name := range names {
		m := a.meters[name]
		vec = append(vec, m.pendingSum, m.pendingWeight, m.lastSum, m.lastWeight)
	}

	reduced, err := a.comm.AllReduce(ctx, vec)
	if err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}

	for i, name := range names {
		m := a.meters[name]
		m.syncedSum += reduced[4*i]
		m.syncedWeight += reduced[4*i+1]
		m.lastSum = reduced[4*i+2]
		m.lastWeight = reduced[4*i+3]
		m.pendingSum = 0
		m.pendingWeight = 0
	}
	return nil
}

// Reset drops every meter.
func (a *Aggregator) Reset() {
	a.meters = make(map[string]*Meter)
}

// Snapshot returns the summary of every meter.
func (a *Aggregator) Snapshot() map[string]Summary {
	out := make(map[string]Summary, len(a.meters))
	for name, m := range a.meters {
		out[name] = m.Summary()
	}
	return out
}

// Format renders "name val (avg)" pairs in sorted order for log lines.
func (a *Aggregator) Format() []any {
	var attrs []any
	for _, name := range a.Names() {
		m := a.meters[name]
		attrs = append(attrs, name, fmt.Sprintf("%.4f (%.4f)", m.Value(), m.GlobalAvg()))
	}
	return attrs
}

