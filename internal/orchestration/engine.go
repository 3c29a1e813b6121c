package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/repo"
)

// Metrics receives outcome counts; nil disables instrumentation.
type Metrics interface {
	TransitionEvaluated(kind OutcomeKind)
}

// Engine applies the core and auxiliary policies to one transition attempt
// inside a single transaction. It is the only component allowed to write a
// run's current state.
type Engine struct {
	store  repo.Store
	core   *Policy
	aux    *Policy
	logger *slog.Logger
	meter  Metrics
}

func NewEngine(store repo.Store, core, aux *Policy, logger *slog.Logger, meter Metrics) *Engine {
	if store == nil || core == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, core: core, aux: aux, logger: logger, meter: meter}
}

// ProposeTransition evaluates the proposed state for the run and commits it
// if every governing rule approves. Policy verdicts come back as the
// Outcome value; only operational failures are returned as errors, and any
// partial side effects are rolled back before one surfaces.
func (e *Engine) ProposeTransition(ctx context.Context, runID string, proposed domain.State) (Outcome, error) {
	if e == nil {
		return Outcome{}, errors.New("engine not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Outcome{}, errors.New("run id is required")
	}
	if strings.TrimSpace(proposed.ID) == "" {
		proposed.ID = uuid.NewString()
	}
	if proposed.Timestamp.IsZero() {
		proposed.Timestamp = time.Now().UTC()
	}
	if err := proposed.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("proposed state: %w", err)
	}

	var outcome Outcome
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		run, err := tx.GetRunForUpdate(ctx, runID)
		if err != nil {
			return fmt.Errorf("lock run %s: %w", runID, err)
		}

		state := proposed
		t := newContext(&run, &state, tx)

		executed, decision, vetoer, err := e.evaluate(ctx, t, e.core)
		if err != nil {
			return err
		}
		if vetoer != nil {
			if cleanupErr := e.cleanup(ctx, t, executed); cleanupErr != nil {
				return cleanupErr
			}
			outcome = outcomeFromDecision(vetoer, decision)
			return nil
		}

		var extraDelay time.Duration
		if e.aux != nil {
			auxExecuted, delay, err := e.evaluateAuxiliary(ctx, t)
			if err != nil {
				return err
			}
			extraDelay = delay
			executed = append(executed, auxExecuted...)
		}

		validated := *t.ProposedState
		t.ValidatedState = &validated
		if err := tx.UpdateRunState(ctx, run.ID, validated, t.Run.RunCount); err != nil {
			return fmt.Errorf("update run state: %w", err)
		}
		if err := tx.AppendState(ctx, run.ID, validated); err != nil {
			return fmt.Errorf("append state history: %w", err)
		}
		for _, rule := range executed {
			if err := rule.After(ctx, t); err != nil {
				return fmt.Errorf("rule %s after: %w", rule.Name(), err)
			}
		}
		outcome = Outcome{Kind: OutcomeAccepted, ValidatedState: &validated, RetryAfter: extraDelay}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("propose transition for run %s: %w", runID, err)
	}

	if e.meter != nil {
		e.meter.TransitionEvaluated(outcome.Kind)
	}
	if outcome.Kind != OutcomeAccepted {
		e.logger.Info("transition not accepted",
			"run_id", runID,
			"outcome", string(outcome.Kind),
			"rule", outcome.RuleName,
			"reason", outcome.Reason,
		)
	}
	return outcome, nil
}

// evaluate runs a policy's governing rules in order. It returns the rules
// whose Before approved, plus the vetoing rule and its decision if one
// stopped the attempt. An error means an infrastructure failure that must
// roll the transaction back.
func (e *Engine) evaluate(ctx context.Context, t *Context, p *Policy) ([]Rule, Decision, Rule, error) {
	executed := make([]Rule, 0, len(p.rules))
	for _, rule := range p.rules {
		if !rule.Governs(t.FromType(), t.ToType()) {
			continue
		}
		decision, err := rule.Before(ctx, t)
		if err != nil {
			if cleanupErr := e.cleanup(ctx, t, executed); cleanupErr != nil {
				return nil, Decision{}, nil, errors.Join(err, cleanupErr)
			}
			return nil, Decision{}, nil, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		if decision.Kind != DecisionApprove {
			return executed, decision, rule, nil
		}
		executed = append(executed, rule)
	}
	return executed, Decision{}, nil, nil
}

// evaluateAuxiliary runs the auxiliary policy after the core policy has
// fully approved. Auxiliary verdicts cannot unwind core side effects: a
// Delay adds to the outcome's retry hint, while Reject and Abort are logged
// and otherwise ignored. Infrastructure errors still abort the attempt.
func (e *Engine) evaluateAuxiliary(ctx context.Context, t *Context) ([]Rule, time.Duration, error) {
	executed := make([]Rule, 0, len(e.aux.rules))
	var extraDelay time.Duration
	for _, rule := range e.aux.rules {
		if !rule.Governs(t.FromType(), t.ToType()) {
			continue
		}
		decision, err := rule.Before(ctx, t)
		if err != nil {
			return nil, 0, fmt.Errorf("auxiliary rule %s: %w", rule.Name(), err)
		}
		switch decision.Kind {
		case DecisionApprove:
			executed = append(executed, rule)
		case DecisionDelay:
			if decision.RetryAfter > extraDelay {
				extraDelay = decision.RetryAfter
			}
			executed = append(executed, rule)
		default:
			e.logger.Warn("auxiliary rule verdict ignored",
				"rule", rule.Name(),
				"decision", string(decision.Kind),
				"reason", decision.Reason,
			)
		}
	}
	return executed, extraDelay, nil
}

// cleanup compensates already-executed rules in reverse order.
func (e *Engine) cleanup(ctx context.Context, t *Context, executed []Rule) error {
	for i := len(executed) - 1; i >= 0; i-- {
		if err := executed[i].Cleanup(ctx, t); err != nil {
			return fmt.Errorf("rule %s cleanup: %w", executed[i].Name(), err)
		}
	}
	return nil
}
