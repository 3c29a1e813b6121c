package domain

import (
	"errors"
	"strings"
	"time"
)

// ScheduleKind selects how a deployment's occurrences are computed.
type ScheduleKind string

const (
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindCron     ScheduleKind = "cron"
)

// ScheduleSpec is a recurring-time specification owned by a deployment.
// Interval schedules fire every Interval from Anchor; cron schedules follow
// a five-field cron expression.
type ScheduleSpec struct {
	Kind     ScheduleKind
	Interval time.Duration
	Anchor   time.Time
	Cron     string
}

func (s ScheduleSpec) Validate() error {
	switch s.Kind {
	case ScheduleKindInterval:
		if s.Interval <= 0 {
			return errors.New("interval must be positive")
		}
	case ScheduleKindCron:
		if strings.TrimSpace(s.Cron) == "" {
			return errors.New("cron expression is required")
		}
	default:
		return errors.New("unknown schedule kind: " + string(s.Kind))
	}
	return nil
}

// Deployment owns a schedule from which future runs are materialized.
type Deployment struct {
	ID               string
	Name             string
	Schedule         ScheduleSpec
	IsScheduleActive bool
	Tags             []string
	Retry            RetryPolicy
	CreatedAt        time.Time
}

func (d Deployment) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("deployment id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("deployment name is required")
	}
	if err := d.Schedule.Validate(); err != nil {
		return err
	}
	return nil
}
