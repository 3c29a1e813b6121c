package orchestration

import (
	"context"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

// DecisionKind classifies what a rule wants done with a proposed transition.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
	DecisionDelay   DecisionKind = "delay"
	DecisionAbort   DecisionKind = "abort"
)

// Decision is a rule's verdict on a transition attempt. Decisions are plain
// values; a rule that hits an infrastructure failure returns an error
// instead, which aborts and rolls back the whole attempt.
type Decision struct {
	Kind       DecisionKind
	Reason     string
	RetryAfter time.Duration
}

func Approve() Decision {
	return Decision{Kind: DecisionApprove}
}

func Reject(reason string) Decision {
	return Decision{Kind: DecisionReject, Reason: reason}
}

func Delay(reason string, retryAfter time.Duration) Decision {
	return Decision{Kind: DecisionDelay, Reason: reason, RetryAfter: retryAfter}
}

func Abort(reason string) Decision {
	return Decision{Kind: DecisionAbort, Reason: reason}
}

// Rule is the smallest unit of orchestration logic.
//
// Before inspects (and may mutate) the proposed state prior to commit.
// After runs once every policy has approved and the state write is in
// place, still inside the transaction; it is the place for side effects
// that must not happen on a vetoed attempt. The commit can still fail
// after After ran, so an After hook whose effects escape the transaction
// must tolerate a transition that never becomes durable. Cleanup must
// fully reverse any side effects Before performed; the engine invokes it
// when a later rule in the same attempt vetoes the transition.
type Rule interface {
	Name() string
	Governs(from, to domain.StateType) bool
	Before(ctx context.Context, t *Context) (Decision, error)
	After(ctx context.Context, t *Context) error
	Cleanup(ctx context.Context, t *Context) error
}

// baseRule provides no-op After/Cleanup hooks for rules that only inspect.
type baseRule struct{}

func (baseRule) After(context.Context, *Context) error   { return nil }
func (baseRule) Cleanup(context.Context, *Context) error { return nil }
