package loop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type countingMetrics struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (m *countingMetrics) LoopIteration(name string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed {
		m.failed++
	} else {
		m.ok++
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewValidation(t *testing.T) {
	if _, err := New(" ", time.Second, testLogger(), nil); err == nil {
		t.Fatalf("blank name must be rejected")
	}
	if _, err := New("tick", 0, testLogger(), nil); err == nil {
		t.Fatalf("non-positive interval must be rejected")
	}
	if _, err := New("tick", time.Second, nil, nil); err != nil {
		t.Fatalf("nil logger should default: %v", err)
	}
}

func TestRunSurvivesIterationErrors(t *testing.T) {
	l, err := New("flaky", time.Millisecond, testLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	iterations := 0
	runErr := l.Run(ctx, func(context.Context) error {
		iterations++
		if iterations >= 3 {
			cancel()
		}
		return errors.New("boom")
	})
	if runErr != nil {
		t.Fatalf("run returned %v, want nil on cancellation", runErr)
	}
	if iterations < 3 {
		t.Fatalf("loop died after %d iterations", iterations)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	l, err := New("tick", time.Hour, testLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	if err := l.Run(ctx, func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ran {
		t.Fatalf("iteration ran despite pre-cancelled context")
	}
}

func TestRunStopsDuringSleep(t *testing.T) {
	l, err := New("tick", time.Hour, testLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx, func(context.Context) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after cancellation")
	}
}

func TestRunMetersIterations(t *testing.T) {
	meter := &countingMetrics{}
	l, err := New("tick", time.Millisecond, testLogger(), meter)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	if err := l.Run(ctx, func(context.Context) error {
		calls++
		if calls == 3 {
			cancel()
		}
		if calls%2 == 0 {
			return errors.New("boom")
		}
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	meter.mu.Lock()
	defer meter.mu.Unlock()
	if meter.ok != 2 || meter.failed != 1 {
		t.Fatalf("metered ok=%d failed=%d, want 2/1", meter.ok, meter.failed)
	}
}

func TestRunRequiresFunction(t *testing.T) {
	l, err := New("tick", time.Second, testLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := l.Run(context.Background(), nil); err == nil {
		t.Fatalf("nil function must be rejected")
	}
}
