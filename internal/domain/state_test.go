package domain

import (
	"testing"
	"time"
)

func TestStateValidate(t *testing.T) {
	valid := NewRunning()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid state rejected: %v", err)
	}

	noID := valid
	noID.ID = " "
	if err := noID.Validate(); err == nil {
		t.Fatalf("state without id must be rejected")
	}

	badType := valid
	badType.Type = "sprinting"
	if err := badType.Validate(); err == nil {
		t.Fatalf("unknown state type must be rejected")
	}

	noTime := valid
	noTime.Timestamp = time.Time{}
	if err := noTime.Validate(); err == nil {
		t.Fatalf("state without timestamp must be rejected")
	}
}

func TestStateIsTerminal(t *testing.T) {
	cases := map[StateType]bool{
		StateTypeScheduled: false,
		StateTypePending:   false,
		StateTypeRunning:   false,
		StateTypePaused:    false,
		StateTypeFailed:    false,
		StateTypeCompleted: true,
		StateTypeCrashed:   true,
		StateTypeCancelled: true,
	}
	for st, want := range cases {
		s := State{Type: st}
		if got := s.IsTerminal(); got != want {
			t.Fatalf("IsTerminal(%s) = %v, want %v", st, got, want)
		}
	}
}

func TestNormalizeStateType(t *testing.T) {
	if got := NormalizeStateType("  Running "); got != StateTypeRunning {
		t.Fatalf("expected running, got %q", got)
	}
	if got := NormalizeStateType("COMPLETED"); got != StateTypeCompleted {
		t.Fatalf("expected completed, got %q", got)
	}
	if got := NormalizeStateType("nope"); got != "" {
		t.Fatalf("expected empty type, got %q", got)
	}
}

func TestNamedStatesKeepScheduledType(t *testing.T) {
	expected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	late := NewLate(expected)
	if late.Type != StateTypeScheduled || late.Name != StateNameLate {
		t.Fatalf("late state malformed: %+v", late)
	}
	if !late.ScheduledTime.Equal(expected) {
		t.Fatalf("late state lost expected start time")
	}

	retry := NewAwaitingRetry(expected.Add(time.Minute), "retrying")
	if retry.Type != StateTypeScheduled || retry.Name != StateNameAwaitingRetry {
		t.Fatalf("awaiting-retry state malformed: %+v", retry)
	}
	if err := retry.Validate(); err != nil {
		t.Fatalf("awaiting-retry state invalid: %v", err)
	}
}

func TestRunValidate(t *testing.T) {
	state := NewRunning()
	run := Run{
		ID:           "run-1",
		DeploymentID: "dep-1",
		RunType:      RunTypeFlow,
		State:        &state,
	}
	if err := run.Validate(); err != nil {
		t.Fatalf("valid run rejected: %v", err)
	}

	noDep := run
	noDep.DeploymentID = ""
	if err := noDep.Validate(); err == nil {
		t.Fatalf("flow run without deployment must be rejected")
	}

	task := run
	task.RunType = RunTypeTask
	task.DeploymentID = ""
	if err := task.Validate(); err != nil {
		t.Fatalf("task run without deployment should be valid: %v", err)
	}

	badCount := run
	badCount.RunCount = -1
	if err := badCount.Validate(); err == nil {
		t.Fatalf("negative run count must be rejected")
	}

	badType := run
	badType.RunType = "cron"
	if err := badType.Validate(); err == nil {
		t.Fatalf("unknown run type must be rejected")
	}
}
