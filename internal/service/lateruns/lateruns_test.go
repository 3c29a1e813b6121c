package lateruns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/orchestration"
	"github.com/tideline-labs/tideline-go/internal/repo"
)

type fakeRunSource struct {
	runs    []domain.Run
	filters []repo.LateRunFilter
	err     error
}

func (s *fakeRunSource) ListLateScheduledRuns(ctx context.Context, filter repo.LateRunFilter) ([]domain.Run, error) {
	s.filters = append(s.filters, filter)
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Run
	for _, run := range s.runs {
		if run.StateType() != domain.StateTypeScheduled || run.State.Name == domain.StateNameLate {
			continue
		}
		if !run.State.ScheduledTime.IsZero() && run.State.ScheduledTime.Before(filter.Before) {
			out = append(out, run)
		}
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

type proposal struct {
	runID string
	state domain.State
}

type fakeProposer struct {
	proposals []proposal
	outcome   orchestration.Outcome
	errFor    string
}

func (p *fakeProposer) ProposeTransition(ctx context.Context, runID string, proposed domain.State) (orchestration.Outcome, error) {
	p.proposals = append(p.proposals, proposal{runID: runID, state: proposed})
	if p.errFor == runID {
		return orchestration.Outcome{}, errors.New("engine unavailable")
	}
	return p.outcome, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduledRun(id string, expected time.Time) domain.Run {
	state := domain.NewScheduled(expected, "Run scheduled")
	return domain.Run{
		ID:                id,
		DeploymentID:      "dep-1",
		RunType:           domain.RunTypeFlow,
		State:             &state,
		ExpectedStartTime: expected,
	}
}

func newTestService(t *testing.T, runs RunSource, engine Proposer, cfg Config) *Service {
	t.Helper()
	svc := New(runs, engine, cfg, testLogger())
	if svc == nil {
		t.Fatalf("service not constructed")
	}
	return svc
}

func TestRunOnceMarksOverdueRuns(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	cancelled := scheduledRun("run-cancelled", now.Add(-10*time.Minute))
	cancelledState := domain.NewCancelled("user request")
	cancelled.State = &cancelledState
	source := &fakeRunSource{runs: []domain.Run{
		scheduledRun("run-old", now.Add(-time.Minute)),
		scheduledRun("run-fresh", now.Add(-5*time.Second)),
		scheduledRun("run-future", now.Add(time.Hour)),
		cancelled,
	}}
	engine := &fakeProposer{outcome: orchestration.Outcome{Kind: orchestration.OutcomeAccepted}}
	svc := newTestService(t, source, engine, Config{Interval: 5 * time.Second, Threshold: 15 * time.Second, BatchSize: 400})
	svc.now = func() time.Time { return now }

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(source.filters) != 1 {
		t.Fatalf("queries = %d, want 1", len(source.filters))
	}
	filter := source.filters[0]
	if !filter.Before.Equal(now.Add(-15 * time.Second)) {
		t.Fatalf("filter bound = %v, want now minus threshold", filter.Before)
	}
	if filter.Limit != 400 {
		t.Fatalf("filter limit = %d", filter.Limit)
	}

	if len(engine.proposals) != 1 {
		t.Fatalf("proposals = %d, want only the overdue run", len(engine.proposals))
	}
	p := engine.proposals[0]
	if p.runID != "run-old" {
		t.Fatalf("proposed for %s", p.runID)
	}
	if p.state.Type != domain.StateTypeScheduled || p.state.Name != domain.StateNameLate {
		t.Fatalf("proposed state = %s/%s, want scheduled/Late", p.state.Type, p.state.Name)
	}
	if !p.state.ScheduledTime.Equal(now.Add(-time.Minute)) {
		t.Fatalf("late state lost expected start: %v", p.state.ScheduledTime)
	}
}

func TestRunOnceSkipsAlreadyLateRuns(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	late := scheduledRun("run-late", now.Add(-time.Hour))
	lateState := domain.NewLate(late.ExpectedStartTime)
	late.State = &lateState
	source := &fakeRunSource{runs: []domain.Run{late}}
	engine := &fakeProposer{outcome: orchestration.Outcome{Kind: orchestration.OutcomeAccepted}}
	svc := newTestService(t, source, engine, Config{Interval: 5 * time.Second, Threshold: 15 * time.Second, BatchSize: 400})
	svc.now = func() time.Time { return now }

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(engine.proposals) != 0 {
		t.Fatalf("already-late run proposed again: %+v", engine.proposals)
	}
}

func TestRunOnceLeavesFutureRetryAlone(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	retryAt := now.Add(30 * time.Minute)
	retrying := scheduledRun("run-retry", now.Add(-2*time.Hour))
	retryState := domain.NewAwaitingRetry(retryAt, "retry 1 of 2")
	retrying.State = &retryState
	source := &fakeRunSource{runs: []domain.Run{retrying}}
	engine := &fakeProposer{outcome: orchestration.Outcome{Kind: orchestration.OutcomeAccepted}}
	svc := newTestService(t, source, engine, Config{Interval: 5 * time.Second, Threshold: 15 * time.Second, BatchSize: 400})
	svc.now = func() time.Time { return now }

	// The first occurrence is long past, but the retry is 30m out: the run
	// must not be marked Late, or the backoff would be destroyed.
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(engine.proposals) != 0 {
		t.Fatalf("run awaiting a future retry was proposed: %+v", engine.proposals)
	}

	// Once the retry time itself passes the threshold, the run is overdue.
	svc.now = func() time.Time { return retryAt.Add(time.Minute) }
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(engine.proposals) != 1 {
		t.Fatalf("overdue retry not proposed: %+v", engine.proposals)
	}
	p := engine.proposals[0]
	if p.state.Name != domain.StateNameLate || !p.state.ScheduledTime.Equal(retryAt) {
		t.Fatalf("late state = %s at %v, want Late at %v", p.state.Name, p.state.ScheduledTime, retryAt)
	}
}

func TestRunOnceFailingRunDoesNotStopBatch(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeRunSource{runs: []domain.Run{
		scheduledRun("run-1", now.Add(-2*time.Minute)),
		scheduledRun("run-2", now.Add(-time.Minute)),
	}}
	engine := &fakeProposer{
		outcome: orchestration.Outcome{Kind: orchestration.OutcomeAccepted},
		errFor:  "run-1",
	}
	svc := newTestService(t, source, engine, Config{Interval: 5 * time.Second, Threshold: 15 * time.Second, BatchSize: 400})
	svc.now = func() time.Time { return now }

	err := svc.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected first run's error to surface")
	}
	if len(engine.proposals) != 2 {
		t.Fatalf("batch stopped early: %d proposals", len(engine.proposals))
	}
}

func TestRunOnceToleratesRejectedOutcome(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeRunSource{runs: []domain.Run{scheduledRun("run-1", now.Add(-time.Minute))}}
	engine := &fakeProposer{outcome: orchestration.Outcome{Kind: orchestration.OutcomeRejected, Reason: "already started"}}
	svc := newTestService(t, source, engine, Config{Interval: 5 * time.Second, Threshold: 15 * time.Second, BatchSize: 400})
	svc.now = func() time.Time { return now }

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("rejected outcome must not error: %v", err)
	}
}

func TestRunOnceQueryFailure(t *testing.T) {
	source := &fakeRunSource{err: errors.New("db down")}
	engine := &fakeProposer{}
	svc := newTestService(t, source, engine, Config{Interval: 5 * time.Second, Threshold: 15 * time.Second, BatchSize: 400})

	if err := svc.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected query error to surface")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Interval: 5 * time.Second, Threshold: 15 * time.Second, BatchSize: 400}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, cfg := range []Config{
		{Interval: 0, Threshold: time.Second, BatchSize: 1},
		{Interval: time.Second, Threshold: 0, BatchSize: 1},
		{Interval: time.Second, Threshold: time.Second, BatchSize: 0},
	} {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("config %+v must be rejected", cfg)
		}
	}
}
