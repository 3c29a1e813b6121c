package orchestration

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Policy is an ordered sequence of rules evaluated left to right. Evaluation
// stops at the first non-approve decision. Policies are built once at
// process start and passed into the engine; there is no ambient registry.
type Policy struct {
	name  string
	rules []Rule
}

func NewPolicy(name string, rules ...Rule) (*Policy, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("policy name is required")
	}
	for _, r := range rules {
		if r == nil {
			return nil, errors.New("policy " + name + " contains a nil rule")
		}
	}
	return &Policy{name: name, rules: rules}, nil
}

func (p *Policy) Name() string {
	return p.name
}

// Rules returns the ordered rule list.
func (p *Policy) Rules() []Rule {
	return p.rules
}

// CoreConfig tunes the built-in core rules.
type CoreConfig struct {
	// ConcurrencyRetryAfter is the delay hinted to callers when a
	// concurrency slot is unavailable.
	ConcurrencyRetryAfter time.Duration
}

// CorePolicy assembles the baseline invariant rules in their required order:
// graph legality first (so illegal transitions never reach a rule with side
// effects), then the retry rewrite, concurrency accounting, and run-count
// bookkeeping.
func CorePolicy(cfg CoreConfig) (*Policy, error) {
	retryAfter := cfg.ConcurrencyRetryAfter
	if retryAfter <= 0 {
		retryAfter = 30 * time.Second
	}
	return NewPolicy("core",
		&legalTransitionRule{},
		&retryFailedRule{now: time.Now},
		&secureConcurrencySlotRule{retryAfter: retryAfter},
		&releaseConcurrencySlotRule{},
		&incrementRunCountRule{},
	)
}

// AuxiliaryPolicy assembles the side-effect rules that run only after the
// core policy fully approves: audit trail, optional state-data offload, and
// notification fan-out. Auxiliary verdicts never unwind core side effects.
func AuxiliaryPolicy(results StateDataStore, notifier Notifier, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules := []Rule{
		&auditTransitionRule{},
	}
	if results != nil {
		rules = append(rules, &offloadStateDataRule{store: results, threshold: defaultOffloadThreshold})
	}
	if notifier != nil {
		rules = append(rules, &notifyTransitionRule{notifier: notifier, logger: logger})
	}
	return NewPolicy("auxiliary", rules...)
}
