package study

// State is the 3-valued observation derived from a scheduler status.
// It is never persisted on its own.
type State struct {
	Started   bool
	Finished  bool
	WithError bool
}

// Canonical observations.
var (
	StatePending   = State{}
	StateRunning   = State{Started: true}
	StateCompleted = State{Started: true, Finished: true}
	StateFailed    = State{Started: true, Finished: true, WithError: true}
)
