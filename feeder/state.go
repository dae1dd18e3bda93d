package feeder

import (
	"fmt"
	"time"
)

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StatePlanning
	StateDelivering
	StateWaiting
	StateRecovering
	StateCompleted
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateExtracting: "extracting",
	StatePlanning:   "planning",
	StateDelivering: "delivering",
	StateWaiting:    "waiting_for_readiness",
	StateRecovering: "error_recovery",
	StateCompleted:  "completed",
	StateStopped:    "stopped",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EventKind classifies journal events.
type EventKind string

const (
	EventState       EventKind = "state"
	EventSubmit      EventKind = "submit"
	EventReady       EventKind = "ready"
	EventInterrupted EventKind = "interrupted"
	EventRecovery    EventKind = "recovery"
	EventError       EventKind = "error"
)

// Event is emitted on every transition, submission, readiness signal and
// recovery. Part is 1-based; for EventReady it is the part that was
// acknowledged.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      EventKind `json:"kind"`
	State     State     `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Document  string    `json:"document,omitempty"`
	Part      int       `json:"part,omitempty"`
	Total     int       `json:"total,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Progress is the read-only view offered to the UI surface.
type Progress struct {
	State       State  `json:"state"`
	SessionID   string `json:"session_id,omitempty"`
	Document    string `json:"document,omitempty"`
	CurrentPart int    `json:"current_part"`
	TotalParts  int    `json:"total_parts"`
	Submitting  bool   `json:"submitting"`
	Recoveries  int    `json:"recoveries"`
	LastOutcome State  `json:"last_outcome"`
	LastError   string `json:"last_error,omitempty"`
}

// Result summarises one Run.
type Result struct {
	Status     State  `json:"status"`
	Document   string `json:"document"`
	Delivered  int    `json:"delivered"`
	Recoveries int    `json:"recoveries"`
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for i, name := range stateNames {
		if name == s {
			return State(i), true
		}
	}
	return StateIdle, false
}

func (s *State) UnmarshalText(b []byte) error {
	st, ok := ParseState(string(b))
	if !ok {
		return fmt.Errorf("feeder: unknown state %q", b)
	}
	*s = st
	return nil
}
