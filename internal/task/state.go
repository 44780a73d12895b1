package task

import "fmt"

// State is a task's lifecycle position.
//
//	CREATED -> LOADED -> SUBMITTED -> RUNNING -> DONE
//	LOADED -> DONE                 (cache hit, or no jobs)
//	any non-terminal -> FAILED     (absorbing)
type State string

const (
	StateCreated   State = "CREATED"
	StateLoaded    State = "LOADED"
	StateSubmitted State = "SUBMITTED"
	StateRunning   State = "RUNNING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	switch from {
	case StateCreated:
		return to == StateLoaded
	case StateLoaded:
		return to == StateSubmitted || to == StateDone
	case StateSubmitted:
		return to == StateRunning
	case StateRunning:
		return to == StateDone
	default:
		return false
	}
}

// TransitionError reports a disallowed state change. It indicates a
// scheduler bug and aborts the run.
type TransitionError struct {
	TaskID string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("disallowed transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}
