// Package lateruns finds runs overdue to start and drives them into the
// Late state through the orchestration engine, never by writing run rows
// directly, so the full rule pipeline executes for every marking.
package lateruns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/orchestration"
	"github.com/tideline-labs/tideline-go/internal/platform/env"
	"github.com/tideline-labs/tideline-go/internal/repo"
)

// RunSource queries overdue Scheduled runs.
type RunSource interface {
	ListLateScheduledRuns(ctx context.Context, filter repo.LateRunFilter) ([]domain.Run, error)
}

// Proposer evaluates proposed transitions; in production it is the
// orchestration engine.
type Proposer interface {
	ProposeTransition(ctx context.Context, runID string, proposed domain.State) (orchestration.Outcome, error)
}

type Config struct {
	// Interval is the pause between detector ticks.
	Interval time.Duration
	// Threshold is how far past its expected start a Scheduled run may be
	// before it is marked Late.
	Threshold time.Duration
	// BatchSize caps how many runs one tick marks.
	BatchSize int
}

func ConfigFromEnv() (Config, error) {
	interval, err := env.Duration("TIDELINE_LATE_RUNS_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	threshold, err := env.Duration("TIDELINE_LATE_RUNS_THRESHOLD", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	batch, err := env.Int("TIDELINE_LATE_RUNS_BATCH_SIZE", 400)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Interval: interval, Threshold: threshold, BatchSize: batch}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("TIDELINE_LATE_RUNS_INTERVAL must be positive")
	}
	if c.Threshold <= 0 {
		return errors.New("TIDELINE_LATE_RUNS_THRESHOLD must be positive")
	}
	if c.BatchSize < 1 {
		return errors.New("TIDELINE_LATE_RUNS_BATCH_SIZE must be >= 1")
	}
	return nil
}

type Service struct {
	runs   RunSource
	engine Proposer
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(runs RunSource, engine Proposer, cfg Config, logger *slog.Logger) *Service {
	if runs == nil || engine == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, engine: engine, cfg: cfg, logger: logger, now: time.Now}
}

// RunOnce performs one detector tick. The query already excludes runs that
// left the Scheduled type, avoiding engine calls the legal-transition graph
// would reject anyway. A failing run does not stop the rest of the batch.
func (s *Service) RunOnce(ctx context.Context) error {
	before := s.now().UTC().Add(-s.cfg.Threshold)
	overdue, err := s.runs.ListLateScheduledRuns(ctx, repo.LateRunFilter{Before: before, Limit: s.cfg.BatchSize})
	if err != nil {
		return fmt.Errorf("query late scheduled runs: %w", err)
	}

	marked := 0
	var firstErr error
	for _, run := range overdue {
		scheduled := run.ExpectedStartTime
		if run.State != nil && !run.State.ScheduledTime.IsZero() {
			scheduled = run.State.ScheduledTime
		}
		outcome, err := s.engine.ProposeTransition(ctx, run.ID, domain.NewLate(scheduled))
		if err != nil {
			s.logger.Error("marking run late failed", "run_id", run.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if outcome.Kind == orchestration.OutcomeAccepted {
			marked++
		} else {
			s.logger.Info("late marking not accepted",
				"run_id", run.ID,
				"outcome", string(outcome.Kind),
				"reason", outcome.Reason,
			)
		}
	}

	if marked > 0 {
		s.logger.Info("late runs marked", "count", marked)
	}
	return firstErr
}
