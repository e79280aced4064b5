package store

import "errors"

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Run is one invocation of the training loop.
type Run struct {
	Seq          int64  `json:"seq"`
	ID           string `json:"id"`
	ScheduleHash string `json:"schedule_hash"`

	// Config is the run configuration as canonical JSON.
	Config string `json:"config"`

	ResumedFrom string  `json:"resumed_from"`
	StartEpoch  int     `json:"start_epoch"`
	WorldSize   int     `json:"world_size"`
	Status      string  `json:"status"`
	FinalEpoch  int     `json:"final_epoch"`
	BestScore   float64 `json:"best_score"`
}

// PhaseSwitch is one applied reconfiguration.
type PhaseSwitch struct {
	RunID             string `json:"run_id"`
	Epoch             int    `json:"epoch"`
	PhaseID           int    `json:"phase_id"`
	PhaseName         string `json:"phase_name"`
	RebuildDataset    bool   `json:"rebuild_dataset"`
	RebuildOptimizer  bool   `json:"rebuild_optimizer"`
	Resume            bool   `json:"resume"`
	StepsPerEpoch     int    `json:"steps_per_epoch"`
	TotalSteps        int    `json:"total_steps"`
	SchedulerPosition int    `json:"scheduler_position"`
}

// EpochMetric is the summary of one meter for one split and epoch.
type EpochMetric struct {
	RunID  string  `json:"run_id"`
	Split  string  `json:"split"`
	Epoch  int     `json:"epoch"`
	Name   string  `json:"name"`
	Sum    float64 `json:"sum"`
	Weight float64 `json:"weight"`
	Avg    float64 `json:"avg"`
}

// CheckpointWrite records one checkpoint slot write.
type CheckpointWrite struct {
	Seq   int64   `json:"seq"`
	RunID string  `json:"run_id"`
	Slot  string  `json:"slot"`
	Epoch int     `json:"epoch"`
	Score float64 `json:"score"`
	Path  string  `json:"path"`
}
