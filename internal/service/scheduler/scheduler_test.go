package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

type fakeRunStore struct {
	existing map[string]bool
	inserts  []insert
	failFor  string
}

type insert struct {
	deploymentID string
	expected     time.Time
	initial      domain.State
	tags         []string
	retry        domain.RetryPolicy
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{existing: map[string]bool{}}
}

func occurrenceKey(deploymentID string, expected time.Time) string {
	return deploymentID + "/" + expected.UTC().Format(time.RFC3339)
}

func (s *fakeRunStore) GetOrCreateScheduledRun(ctx context.Context, deploymentID string, expectedStart time.Time, initial domain.State, tags []string, retry domain.RetryPolicy) (bool, error) {
	if s.failFor == deploymentID {
		return false, errors.New("insert failed")
	}
	key := occurrenceKey(deploymentID, expectedStart)
	if s.existing[key] {
		return false, nil
	}
	s.existing[key] = true
	s.inserts = append(s.inserts, insert{
		deploymentID: deploymentID,
		expected:     expectedStart,
		initial:      initial,
		tags:         tags,
		retry:        retry,
	})
	return true, nil
}

type fakeDeploymentSource struct {
	deployments []domain.Deployment
	err         error
}

func (s *fakeDeploymentSource) ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error) {
	return s.deployments, s.err
}

type countingMetrics struct {
	created []int
}

func (m *countingMetrics) RunsScheduled(created int) {
	m.created = append(m.created, created)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hourlyDeployment(id string) domain.Deployment {
	return domain.Deployment{
		ID:   id,
		Name: "etl-" + id,
		Schedule: domain.ScheduleSpec{
			Kind:     domain.ScheduleKindInterval,
			Interval: time.Hour,
			Anchor:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		IsScheduleActive: true,
		Tags:             []string{"etl"},
		Retry:            domain.RetryPolicy{MaxRetries: 1, RetryDelay: time.Minute},
	}
}

func newTestService(t *testing.T, runs *fakeRunStore, deployments *fakeDeploymentSource, cfg Config, meter Metrics) *Service {
	t.Helper()
	svc := New(runs, deployments, cfg, testLogger(), meter)
	if svc == nil {
		t.Fatalf("service not constructed")
	}
	return svc
}

func TestRunOnceMaterializesOccurrences(t *testing.T) {
	runs := newFakeRunStore()
	deployments := &fakeDeploymentSource{deployments: []domain.Deployment{hourlyDeployment("dep-1")}}
	meter := &countingMetrics{}
	svc := newTestService(t, runs, deployments, Config{Interval: time.Minute, MaxRuns: 100, Horizon: 3 * time.Hour}, meter)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(runs.inserts) != 3 {
		t.Fatalf("inserts = %d, want 3", len(runs.inserts))
	}
	for i, ins := range runs.inserts {
		want := now.Add(time.Duration(i+1) * time.Hour)
		if !ins.expected.Equal(want) {
			t.Fatalf("insert %d at %v, want %v", i, ins.expected, want)
		}
		if ins.initial.Type != domain.StateTypeScheduled {
			t.Fatalf("initial state type = %s", ins.initial.Type)
		}
		if !ins.initial.ScheduledTime.Equal(want) {
			t.Fatalf("initial scheduled time = %v, want %v", ins.initial.ScheduledTime, want)
		}
		if len(ins.tags) != 1 || ins.tags[0] != "etl" {
			t.Fatalf("tags not propagated: %v", ins.tags)
		}
		if ins.retry.MaxRetries != 1 {
			t.Fatalf("retry policy not propagated: %+v", ins.retry)
		}
	}
	if len(meter.created) != 1 || meter.created[0] != 3 {
		t.Fatalf("metered creations = %v", meter.created)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	runs := newFakeRunStore()
	deployments := &fakeDeploymentSource{deployments: []domain.Deployment{hourlyDeployment("dep-1")}}
	meter := &countingMetrics{}
	svc := newTestService(t, runs, deployments, Config{Interval: time.Minute, MaxRuns: 100, Horizon: 3 * time.Hour}, meter)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(runs.inserts) != 3 {
		t.Fatalf("second tick created runs again: %d inserts", len(runs.inserts))
	}
	if len(meter.created) != 2 || meter.created[1] != 0 {
		t.Fatalf("metered creations = %v", meter.created)
	}
}

func TestRunOnceCapsOccurrencesPerDeployment(t *testing.T) {
	runs := newFakeRunStore()
	deployments := &fakeDeploymentSource{deployments: []domain.Deployment{hourlyDeployment("dep-1")}}
	svc := newTestService(t, runs, deployments, Config{Interval: time.Minute, MaxRuns: 2, Horizon: 240 * time.Hour}, nil)
	svc.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(runs.inserts) != 2 {
		t.Fatalf("inserts = %d, want MaxRuns cap of 2", len(runs.inserts))
	}
}

func TestRunOnceFailingDeploymentDoesNotStopOthers(t *testing.T) {
	runs := newFakeRunStore()
	runs.failFor = "dep-1"
	deployments := &fakeDeploymentSource{deployments: []domain.Deployment{
		hourlyDeployment("dep-1"),
		hourlyDeployment("dep-2"),
	}}
	svc := newTestService(t, runs, deployments, Config{Interval: time.Minute, MaxRuns: 100, Horizon: time.Hour}, nil)
	svc.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	err := svc.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected first deployment's error to surface")
	}
	if len(runs.inserts) != 1 || runs.inserts[0].deploymentID != "dep-2" {
		t.Fatalf("second deployment not scheduled: %+v", runs.inserts)
	}
}

func TestRunOnceListFailure(t *testing.T) {
	runs := newFakeRunStore()
	deployments := &fakeDeploymentSource{err: errors.New("db down")}
	svc := newTestService(t, runs, deployments, Config{Interval: time.Minute, MaxRuns: 100, Horizon: time.Hour}, nil)

	if err := svc.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected listing error to surface")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Interval: time.Minute, MaxRuns: 10, Horizon: time.Hour}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, cfg := range []Config{
		{Interval: 0, MaxRuns: 10, Horizon: time.Hour},
		{Interval: time.Minute, MaxRuns: 0, Horizon: time.Hour},
		{Interval: time.Minute, MaxRuns: 10, Horizon: 0},
	} {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("config %+v must be rejected", cfg)
		}
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config from env: %v", err)
	}
	if cfg.Interval != 60*time.Second {
		t.Fatalf("default interval = %v", cfg.Interval)
	}
	if cfg.MaxRuns != 100 {
		t.Fatalf("default max runs = %d", cfg.MaxRuns)
	}
	if cfg.Horizon != 100*24*time.Hour {
		t.Fatalf("default horizon = %v", cfg.Horizon)
	}
}
