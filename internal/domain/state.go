package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StateType is the base kind of a run state. The legal-transition graph is
// defined over state types; display names such as "Late" or "AwaitingRetry"
// refine a type without changing its position in the graph.
type StateType string

const (
	StateTypeScheduled StateType = "scheduled"
	StateTypePending   StateType = "pending"
	StateTypeRunning   StateType = "running"
	StateTypePaused    StateType = "paused"
	StateTypeCompleted StateType = "completed"
	StateTypeFailed    StateType = "failed"
	StateTypeCrashed   StateType = "crashed"
	StateTypeCancelled StateType = "cancelled"
)

// Named sub-states layered over the base types.
const (
	StateNameLate          = "Late"
	StateNameAwaitingRetry = "AwaitingRetry"
	StateNameCancelling    = "Cancelling"
)

// State is an immutable snapshot of a run's status. Once committed it is
// appended to the run's history and never edited.
type State struct {
	ID            string
	Type          StateType
	Name          string
	Timestamp     time.Time
	Message       string
	Data          []byte
	ScheduledTime time.Time
}

func (s State) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("state id is required")
	}
	if NormalizeStateType(string(s.Type)) == "" {
		return errors.New("unknown state type: " + string(s.Type))
	}
	if s.Timestamp.IsZero() {
		return errors.New("state timestamp is required")
	}
	return nil
}

// IsTerminal reports whether no further transition is expected out of the
// state's type.
func (s State) IsTerminal() bool {
	switch s.Type {
	case StateTypeCompleted, StateTypeCrashed, StateTypeCancelled:
		return true
	default:
		return false
	}
}

// NormalizeStateType maps free-form status values to canonical state types.
func NormalizeStateType(value string) StateType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StateTypeScheduled):
		return StateTypeScheduled
	case string(StateTypePending):
		return StateTypePending
	case string(StateTypeRunning):
		return StateTypeRunning
	case string(StateTypePaused):
		return StateTypePaused
	case string(StateTypeCompleted):
		return StateTypeCompleted
	case string(StateTypeFailed):
		return StateTypeFailed
	case string(StateTypeCrashed):
		return StateTypeCrashed
	case string(StateTypeCancelled):
		return StateTypeCancelled
	default:
		return ""
	}
}

func newState(t StateType, name, message string) State {
	return State{
		ID:        uuid.NewString(),
		Type:      t,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Message:   message,
	}
}

// NewScheduled returns a Scheduled state expected to start at the given time.
func NewScheduled(scheduledTime time.Time, message string) State {
	s := newState(StateTypeScheduled, "Scheduled", message)
	s.ScheduledTime = scheduledTime.UTC()
	return s
}

// NewLate marks a run whose expected start time has passed while still
// Scheduled. Late keeps the Scheduled type so the graph treats it as a
// same-type transition.
func NewLate(expectedStart time.Time) State {
	s := newState(StateTypeScheduled, StateNameLate, "Run is late")
	s.ScheduledTime = expectedStart.UTC()
	return s
}

// NewAwaitingRetry schedules another attempt after a failure.
func NewAwaitingRetry(retryTime time.Time, message string) State {
	s := newState(StateTypeScheduled, StateNameAwaitingRetry, message)
	s.ScheduledTime = retryTime.UTC()
	return s
}

func NewPending() State {
	return newState(StateTypePending, "Pending", "")
}

func NewRunning() State {
	return newState(StateTypeRunning, "Running", "")
}

func NewPaused(message string) State {
	return newState(StateTypePaused, "Paused", message)
}

func NewCompleted(message string) State {
	return newState(StateTypeCompleted, "Completed", message)
}

func NewFailed(message string) State {
	return newState(StateTypeFailed, "Failed", message)
}

func NewCrashed(message string) State {
	return newState(StateTypeCrashed, "Crashed", message)
}

func NewCancelled(message string) State {
	return newState(StateTypeCancelled, "Cancelled", message)
}

// NewCancelling reports cancellation in progress; it carries the Cancelled
// type so graph legality matches the eventual terminal state.
func NewCancelling() State {
	return newState(StateTypeCancelled, StateNameCancelling, "Cancellation requested")
}
