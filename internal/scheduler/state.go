// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scheduler

import "fmt"

// State is the lifecycle state of a task.
type State int

const (
	StateReceived State = iota
	StateAnalyzed
	StateAwaitingApproval
	StateApproved
	StateSpawning
	StateRunning
	StateAggregating
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateAnalyzed:
		return "analyzed"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateApproved:
		return "approved"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateAggregating:
		return "aggregating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateReceived; st <= StateFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown task state %q", b)
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// validTransitions defines allowed state transitions as an adjacency list.
var validTransitions = map[State]map[State]bool{
	StateReceived: {
		StateAnalyzed: true,
	},
	StateAnalyzed: {
		StateAwaitingApproval: true,
		StateApproved:         true,
		StateFailed:           true,
	},
	StateAwaitingApproval: {
		StateApproved: true,
		StateFailed:   true,
	},
	StateApproved: {
		StateSpawning: true,
		StateFailed:   true,
	},
	StateSpawning: {
		StateRunning: true,
		StateFailed:  true,
	},
	StateRunning: {
		StateAggregating: true,
		StateFailed:      true,
	},
	StateAggregating: {
		StateCompleted: true,
		StateFailed:    true,
	},
	StateCompleted: {},
	StateFailed:    {},
}

// ValidTransition returns true if transitioning from one state to another is allowed.
func ValidTransition(from, to State) bool {
	allowed, exists := validTransitions[from][to]
	return exists && allowed
}

// ChildStatus is the lifecycle status of a child worker.
type ChildStatus string

const (
	ChildPending   ChildStatus = "pending"
	ChildRunning   ChildStatus = "running"
	ChildCompleted ChildStatus = "completed"
	ChildFailed    ChildStatus = "failed"
)

// Terminal reports whether the child has reported its final message.
func (c ChildStatus) Terminal() bool {
	return c == ChildCompleted || c == ChildFailed
}
