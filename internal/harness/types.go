package harness

// Trace event types.
const (
	EventRunBegin    = "run_begin"
	EventPhaseSwitch = "phase_switch"
	EventCheckpoint  = "checkpoint"
	EventRunEnd      = "run_end"
)

// TraceEvent is one ledger record in the order it happened.
type TraceEvent struct {
	Type  string         `json:"type"`
	RunID string         `json:"run_id"`
	Args  map[string]any `json:"args"`
	Seq   int64          `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every run behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the ledger records of all runs.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(typ, runID string, args map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:  typ,
		RunID: runID,
		Args:  args,
		Seq:   int64(len(r.Trace) + 1),
	})
}
