package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

const scratchAcquiredTags = "concurrency.acquired"

// legalTransitionRule rejects every (from, to) pair absent from the legal
// graph. It governs all transitions and must sit first in the core policy so
// no side-effecting rule ever sees an illegal pair.
type legalTransitionRule struct {
	baseRule
}

func (r *legalTransitionRule) Name() string { return "legal-transition" }

func (r *legalTransitionRule) Governs(from, to domain.StateType) bool { return true }

func (r *legalTransitionRule) Before(ctx context.Context, t *Context) (Decision, error) {
	// A run with no state yet accepts any first state; runs are normally
	// born Scheduled through the idempotent insert path.
	if t.Run.State == nil {
		return Approve(), nil
	}
	from, to := t.FromType(), t.ToType()
	if !domain.CanTransition(from, to) {
		return Reject(fmt.Sprintf("transition %s -> %s is not allowed", from, to)), nil
	}
	return Approve(), nil
}

// retryFailedRule rewrites Running -> Failed into a scheduled retry while
// the run has retries remaining. The rewritten proposal is re-governed by
// the rules that follow.
type retryFailedRule struct {
	baseRule
	now func() time.Time
}

func (r *retryFailedRule) Name() string { return "retry-failed" }

func (r *retryFailedRule) Governs(from, to domain.StateType) bool {
	return from == domain.StateTypeRunning && to == domain.StateTypeFailed
}

func (r *retryFailedRule) Before(ctx context.Context, t *Context) (Decision, error) {
	policy := t.Run.Retry
	if policy.MaxRetries <= 0 || t.Run.RunCount > policy.MaxRetries {
		return Approve(), nil
	}
	retryTime := r.now().UTC().Add(policy.RetryDelay)
	retry := domain.NewAwaitingRetry(retryTime, fmt.Sprintf("retry %d of %d", t.Run.RunCount, policy.MaxRetries))
	retry.Data = t.ProposedState.Data
	t.ProposedState = &retry
	return Approve(), nil
}

// secureConcurrencySlotRule takes one slot per run tag before a run enters
// Running. A full tag delays the transition; slots taken before the veto of
// a later rule are released again through Cleanup.
type secureConcurrencySlotRule struct {
	retryAfter time.Duration
}

func (r *secureConcurrencySlotRule) Name() string { return "secure-concurrency-slot" }

func (r *secureConcurrencySlotRule) Governs(from, to domain.StateType) bool {
	return to == domain.StateTypeRunning && from != domain.StateTypeRunning
}

func (r *secureConcurrencySlotRule) Before(ctx context.Context, t *Context) (Decision, error) {
	acquired := make([]string, 0, len(t.Run.Tags))
	for _, tag := range t.Run.Tags {
		ok, err := t.Tx.IncrementConcurrency(ctx, tag)
		if err != nil {
			r.release(ctx, t, acquired)
			return Decision{}, fmt.Errorf("increment concurrency %q: %w", tag, err)
		}
		if !ok {
			r.release(ctx, t, acquired)
			return Delay(fmt.Sprintf("concurrency limit for tag %q is full", tag), r.retryAfter), nil
		}
		acquired = append(acquired, tag)
	}
	t.Scratch[scratchAcquiredTags] = acquired
	return Approve(), nil
}

func (r *secureConcurrencySlotRule) After(ctx context.Context, t *Context) error { return nil }

func (r *secureConcurrencySlotRule) Cleanup(ctx context.Context, t *Context) error {
	acquired, _ := t.Scratch[scratchAcquiredTags].([]string)
	for _, tag := range acquired {
		if err := t.Tx.DecrementConcurrency(ctx, tag); err != nil {
			return fmt.Errorf("decrement concurrency %q: %w", tag, err)
		}
	}
	delete(t.Scratch, scratchAcquiredTags)
	return nil
}

func (r *secureConcurrencySlotRule) release(ctx context.Context, t *Context, acquired []string) {
	for _, tag := range acquired {
		// Best effort inside a transaction that is about to discard the
		// proposal anyway; an error here surfaces on the next attempt.
		_ = t.Tx.DecrementConcurrency(ctx, tag)
	}
}

// releaseConcurrencySlotRule frees the run's tag slots when it leaves
// Running. The release happens in After so it only takes effect on a
// durable transition; Crashed and Cancelled release slots just like
// Completed and Failed.
type releaseConcurrencySlotRule struct {
	baseRule
}

func (r *releaseConcurrencySlotRule) Name() string { return "release-concurrency-slot" }

func (r *releaseConcurrencySlotRule) Governs(from, to domain.StateType) bool {
	return from == domain.StateTypeRunning && to != domain.StateTypeRunning
}

func (r *releaseConcurrencySlotRule) Before(ctx context.Context, t *Context) (Decision, error) {
	return Approve(), nil
}

func (r *releaseConcurrencySlotRule) After(ctx context.Context, t *Context) error {
	for _, tag := range t.Run.Tags {
		if err := t.Tx.DecrementConcurrency(ctx, tag); err != nil {
			return fmt.Errorf("decrement concurrency %q: %w", tag, err)
		}
	}
	return nil
}

// incrementRunCountRule counts attempts: the run count advances each time a
// run enters Running from a non-Running state. No-op transitions therefore
// never change it.
type incrementRunCountRule struct{}

func (r *incrementRunCountRule) Name() string { return "increment-run-count" }

func (r *incrementRunCountRule) Governs(from, to domain.StateType) bool {
	return to == domain.StateTypeRunning && from != domain.StateTypeRunning
}

func (r *incrementRunCountRule) Before(ctx context.Context, t *Context) (Decision, error) {
	t.Run.RunCount++
	return Approve(), nil
}

func (r *incrementRunCountRule) After(ctx context.Context, t *Context) error { return nil }

func (r *incrementRunCountRule) Cleanup(ctx context.Context, t *Context) error {
	if t.Run.RunCount > 0 {
		t.Run.RunCount--
	}
	return nil
}
