// Package schedule computes future occurrence times for deployment
// schedules. Interval schedules are anchored arithmetic; cron schedules use
// standard five-field expressions.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

// Occurrences returns up to n occurrence times strictly after `after` and
// no later than `until`, in ascending order.
func Occurrences(spec domain.ScheduleSpec, n int, after, until time.Time) ([]time.Time, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 || until.Before(after) {
		return nil, nil
	}
	after = after.UTC()
	until = until.UTC()

	switch spec.Kind {
	case domain.ScheduleKindInterval:
		return intervalOccurrences(spec, n, after, until), nil
	case domain.ScheduleKindCron:
		return cronOccurrences(spec, n, after, until)
	default:
		return nil, fmt.Errorf("unknown schedule kind: %s", spec.Kind)
	}
}

func intervalOccurrences(spec domain.ScheduleSpec, n int, after, until time.Time) []time.Time {
	anchor := spec.Anchor.UTC()
	if anchor.IsZero() {
		anchor = time.Unix(0, 0).UTC()
	}

	// First occurrence strictly after `after`.
	next := anchor
	if !anchor.After(after) {
		elapsed := after.Sub(anchor)
		periods := elapsed/spec.Interval + 1
		next = anchor.Add(periods * spec.Interval)
	}

	dates := make([]time.Time, 0, n)
	for len(dates) < n && !next.After(until) {
		dates = append(dates, next)
		next = next.Add(spec.Interval)
	}
	return dates
}

func cronOccurrences(spec domain.ScheduleSpec, n int, after, until time.Time) ([]time.Time, error) {
	parsed, err := cron.ParseStandard(spec.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec.Cron, err)
	}
	dates := make([]time.Time, 0, n)
	next := parsed.Next(after)
	for len(dates) < n && !next.IsZero() && !next.After(until) {
		dates = append(dates, next.UTC())
		next = parsed.Next(next)
	}
	return dates, nil
}
