package domain

import (
	"errors"
	"strings"
	"time"
)

// RunType distinguishes flow-level runs from task-level runs.
type RunType string

const (
	RunTypeFlow RunType = "flow"
	RunTypeTask RunType = "task"
)

// RetryPolicy controls how many times a failed run is rescheduled and how
// far in the future each retry lands.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Run is a tracked unit of scheduled or ad-hoc work. Its current state is
// mutated only through committed engine transitions.
type Run struct {
	ID                string
	DeploymentID      string
	RunType           RunType
	State             *State
	ExpectedStartTime time.Time
	RunCount          int
	Tags              []string
	Retry             RetryPolicy
	CreatedAt         time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	switch r.RunType {
	case RunTypeFlow, RunTypeTask:
	default:
		return errors.New("unknown run type: " + string(r.RunType))
	}
	if r.RunType == RunTypeFlow && strings.TrimSpace(r.DeploymentID) == "" {
		return errors.New("deployment id is required for flow runs")
	}
	if r.RunCount < 0 {
		return errors.New("run count must be >= 0")
	}
	return nil
}

// StateType returns the type of the run's current state, or "" if the run
// has no state yet.
func (r Run) StateType() StateType {
	if r.State == nil {
		return ""
	}
	return r.State.Type
}
