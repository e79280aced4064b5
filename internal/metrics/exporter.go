package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exporter publishes epoch-level training state to Prometheus.
//
// Only the primary worker updates it; values are already group-wide after
// Sync so a single publisher is enough.
type Exporter struct {
	epoch          prometheus.Gauge
	bestScore      prometheus.Gauge
	learningRate   prometheus.Gauge
	phase          prometheus.Gauge
	metric         *prometheus.GaugeVec
	phaseSwitches  prometheus.Counter
	unstableSteps  prometheus.Counter
	checkpointsOut *prometheus.CounterVec
}

// NewExporter creates the collectors and registers them on reg.
func NewExporter(reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasetrain",
			Name:      "epoch",
			Help:      "Last completed epoch.",
		}),
		bestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasetrain",
			Name:      "best_score",
			Help:      "Best validation top-1 accuracy so far.",
		}),
		learningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasetrain",
			Name:      "learning_rate",
			Help:      "Learning rate at the end of the last epoch.",
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasetrain",
			Name:      "phase_id",
			Help:      "Active phase ID.",
		}),
		metric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "phasetrain",
			Name:      "metric",
			Help:      "Group-wide epoch average per split and metric.",
		}, []string{"split", "name"}),
		phaseSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phasetrain",
			Name:      "phase_switches_total",
			Help:      "Reconfigurations that rebuilt the dataset pipeline or optimizer.",
		}),
		unstableSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phasetrain",
			Name:      "unstable_steps_total",
			Help:      "Steps whose scheduler advance was skipped due to loss-scale backoff.",
		}),
		checkpointsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phasetrain",
			Name:      "checkpoints_written_total",
			Help:      "Checkpoint writes per slot.",
		}, []string{"slot"}),
	}

	collectors := []prometheus.Collector{
		e.epoch, e.bestScore, e.learningRate, e.phase, e.metric,
		e.phaseSwitches, e.unstableSteps, e.checkpointsOut,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ObserveEpoch publishes the summaries of one split for a finished epoch.
func (e *Exporter) ObserveEpoch(split string, epoch int, summaries map[string]Summary) {
	if e == nil {
		return
	}
	e.epoch.Set(float64(epoch))
	for name, s := range summaries {
		e.metric.WithLabelValues(split, name).Set(s.Avg)
	}
}

// ObserveState publishes phase, learning rate and best score.
func (e *Exporter) ObserveState(phaseID int, lr, best float64) {
	if e == nil {
		return
	}
	e.phase.Set(float64(phaseID))
	e.learningRate.Set(lr)
	e.bestScore.Set(best)
}

// PhaseSwitched counts one reconfiguration.
func (e *Exporter) PhaseSwitched() {
	if e == nil {
		return
	}
	e.phaseSwitches.Inc()
}

// UnstableSteps adds n skipped scheduler advances.
func (e *Exporter) UnstableSteps(n int) {
	if e == nil || n <= 0 {
		return
	}
	e.unstableSteps.Add(float64(n))
}

// CheckpointWritten counts one write to slot.
func (e *Exporter) CheckpointWritten(slot string) {
	if e == nil {
		return
	}
	e.checkpointsOut.WithLabelValues(slot).Inc()
}
