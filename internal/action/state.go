// Package action provides the schedulable unit of work used by every agent
// in Site-Sentinel, together with the bounded pool that executes it.
package action

import "fmt"

// Category tags an action for logs and metrics. It never affects scheduling.
type Category string

const (
	CategoryMaintenance Category = "maintenance"
	CategoryPolicy      Category = "policy"
	CategorySecurity    Category = "security"
	CategoryData        Category = "data"
	CategoryCron        Category = "cron"
	CategoryInstall     Category = "install"
	CategoryOther       Category = "other"
)

// State is the lifecycle position of an action.
type State int

const (
	StateCreated State = iota
	StateScheduled
	StateRunning
	StateSucceeded
	StateFailed
	StateCanceled
	StateTimedOut
)

var stateNames = [...]string{
	StateCreated:   "created",
	StateScheduled: "scheduled",
	StateRunning:   "running",
	StateSucceeded: "succeeded",
	StateFailed:    "failed",
	StateCanceled:  "canceled",
	StateTimedOut:  "timed_out",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// canTransition describes the allowed edges of the lifecycle graph.
// Terminal states have no outgoing edges.
func canTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateScheduled
	case StateScheduled:
		return to == StateRunning || to == StateCanceled || to == StateTimedOut
	case StateRunning:
		return to == StateSucceeded || to == StateFailed || to == StateCanceled || to == StateTimedOut
	default:
		return false
	}
}
