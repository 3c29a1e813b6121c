package orchestration

import (
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

// OutcomeKind classifies the result of a transition attempt.
type OutcomeKind string

const (
	OutcomeAccepted OutcomeKind = "accepted"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeDelayed  OutcomeKind = "delayed"
	OutcomeAborted  OutcomeKind = "aborted"
)

// Outcome is the engine's answer to a proposed transition. Policy decisions
// are always reported as Outcome values, never as errors.
type Outcome struct {
	Kind OutcomeKind

	// ValidatedState is the committed state on acceptance, nil otherwise.
	ValidatedState *domain.State

	// RuleName identifies the rule behind a non-accepted outcome.
	RuleName string

	// Reason is the machine-readable explanation for a non-accepted
	// outcome.
	Reason string

	// RetryAfter hints when a delayed transition is worth retrying.
	RetryAfter time.Duration
}

func outcomeFromDecision(rule Rule, d Decision) Outcome {
	out := Outcome{RuleName: rule.Name(), Reason: d.Reason, RetryAfter: d.RetryAfter}
	switch d.Kind {
	case DecisionReject:
		out.Kind = OutcomeRejected
	case DecisionDelay:
		out.Kind = OutcomeDelayed
	case DecisionAbort:
		out.Kind = OutcomeAborted
	default:
		out.Kind = OutcomeAborted
		out.Reason = "unexpected decision kind: " + string(d.Kind)
	}
	return out
}
