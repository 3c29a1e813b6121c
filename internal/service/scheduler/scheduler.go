// Package scheduler materializes future runs from active deployment
// schedules. Creation is idempotent on (deployment id, expected start
// time), so concurrent ticks never double-create a run for an occurrence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/platform/env"
	"github.com/tideline-labs/tideline-go/internal/schedule"
)

// Metrics receives insert counts; nil disables instrumentation.
type Metrics interface {
	RunsScheduled(created int)
}

// RunStore is the slice of the persistence layer the scheduler writes
// through.
type RunStore interface {
	GetOrCreateScheduledRun(ctx context.Context, deploymentID string, expectedStart time.Time, initial domain.State, tags []string, retry domain.RetryPolicy) (bool, error)
}

// DeploymentSource lists the deployments whose schedules are materialized.
type DeploymentSource interface {
	ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error)
}

type Config struct {
	// Interval is the pause between scheduler ticks.
	Interval time.Duration
	// MaxRuns caps how many occurrences one tick materializes per
	// deployment.
	MaxRuns int
	// Horizon bounds how far into the future runs are materialized.
	Horizon time.Duration
}

func ConfigFromEnv() (Config, error) {
	interval, err := env.Duration("TIDELINE_SCHEDULER_INTERVAL", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxRuns, err := env.Int("TIDELINE_SCHEDULER_MAX_RUNS", 100)
	if err != nil {
		return Config{}, err
	}
	horizon, err := env.Duration("TIDELINE_SCHEDULER_HORIZON", 100*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Interval: interval, MaxRuns: maxRuns, Horizon: horizon}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("TIDELINE_SCHEDULER_INTERVAL must be positive")
	}
	if c.MaxRuns < 1 {
		return errors.New("TIDELINE_SCHEDULER_MAX_RUNS must be >= 1")
	}
	if c.Horizon <= 0 {
		return errors.New("TIDELINE_SCHEDULER_HORIZON must be positive")
	}
	return nil
}

type Service struct {
	runs        RunStore
	deployments DeploymentSource
	cfg         Config
	logger      *slog.Logger
	meter       Metrics
	now         func() time.Time
}

func New(runs RunStore, deployments DeploymentSource, cfg Config, logger *slog.Logger, meter Metrics) *Service {
	if runs == nil || deployments == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runs:        runs,
		deployments: deployments,
		cfg:         cfg,
		logger:      logger,
		meter:       meter,
		now:         time.Now,
	}
}

// RunOnce performs one scheduler tick: for every active deployment it
// computes the next occurrences within the horizon and inserts a Scheduled
// run per occurrence that does not already exist. Existing occurrences are
// skipped silently; a failing deployment does not stop the others.
func (s *Service) RunOnce(ctx context.Context) error {
	deployments, err := s.deployments.ListActiveDeployments(ctx)
	if err != nil {
		return fmt.Errorf("list active deployments: %w", err)
	}

	now := s.now().UTC()
	until := now.Add(s.cfg.Horizon)
	created := 0
	var firstErr error
	for _, d := range deployments {
		n, err := s.scheduleDeployment(ctx, d, now, until)
		if err != nil {
			s.logger.Error("scheduling deployment failed",
				"deployment_id", d.ID,
				"deployment", d.Name,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		created += n
	}

	if s.meter != nil {
		s.meter.RunsScheduled(created)
	}
	if created > 0 {
		s.logger.Info("scheduled runs created", "count", created, "deployments", len(deployments))
	}
	return firstErr
}

func (s *Service) scheduleDeployment(ctx context.Context, d domain.Deployment, now, until time.Time) (int, error) {
	dates, err := schedule.Occurrences(d.Schedule, s.cfg.MaxRuns, now, until)
	if err != nil {
		return 0, fmt.Errorf("compute occurrences: %w", err)
	}

	created := 0
	for _, date := range dates {
		initial := domain.NewScheduled(date, "Run scheduled")
		ok, err := s.runs.GetOrCreateScheduledRun(ctx, d.ID, date, initial, d.Tags, d.Retry)
		if err != nil {
			return created, fmt.Errorf("create run at %s: %w", date.Format(time.RFC3339), err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}
