package trainer

// State is the orchestrator's position in its state machine.
type State int32

const (
	StateInitializing State = iota
	StateTrainingEpoch
	StateValidating
	StateCheckpointing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateTrainingEpoch:
		return "training"
	case StateValidating:
		return "validating"
	case StateCheckpointing:
		return "checkpointing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
