// Package loop provides the interval primitive shared by the background
// maintenance services: run a task forever on an interval and never let one
// failing iteration kill the loop.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Metrics receives per-iteration counts; nil disables instrumentation.
type Metrics interface {
	LoopIteration(name string, failed bool)
}

// Loop invokes a function on a fixed interval. Iteration errors are logged
// and swallowed; the next iteration proceeds on schedule. Cancellation is
// checked at the sleep boundary only, so an in-flight iteration always
// completes before the loop exits.
type Loop struct {
	name     string
	interval time.Duration
	logger   *slog.Logger
	meter    Metrics
}

func New(name string, interval time.Duration, logger *slog.Logger, meter Metrics) (*Loop, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("loop name is required")
	}
	if interval <= 0 {
		return nil, errors.New("loop interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{name: name, interval: interval, logger: logger, meter: meter}, nil
}

// Run blocks until ctx is cancelled. Each iteration starts interval after
// the previous one started; an iteration that overruns its interval is
// logged and the next one starts immediately.
func (l *Loop) Run(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("loop function is required")
	}
	l.logger.Info("loop started", "loop", l.name, "interval", l.interval.String())
	for {
		if ctx.Err() != nil {
			l.logger.Info("loop stopped", "loop", l.name)
			return nil
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			l.logger.Error("loop iteration failed", "loop", l.name, "error", err)
			if l.meter != nil {
				l.meter.LoopIteration(l.name, true)
			}
		} else if l.meter != nil {
			l.meter.LoopIteration(l.name, false)
		}

		elapsed := time.Since(start)
		if elapsed > l.interval {
			l.logger.Warn("loop iteration overran its interval",
				"loop", l.name,
				"elapsed", elapsed.String(),
				"interval", l.interval.String(),
			)
		}

		wait := l.interval - elapsed
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("loop stopped", "loop", l.name)
			return nil
		case <-timer.C:
		}
	}
}
