package orchestration

import (
	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/repo"
)

// Context is the unit of work passed through a policy: one run, one proposed
// transition, one transaction. It lives for a single attempt and carries no
// state across attempts.
type Context struct {
	// Run is exclusively owned for the duration of the attempt; the row
	// lock acquired by the engine keeps other attempts out.
	Run *domain.Run

	// InitialState is a snapshot of the run's state before any rule ran.
	// It never changes during the attempt.
	InitialState domain.State

	// ProposedState is the caller's requested state. Rules may replace it
	// (for example rewriting a failure into a retry).
	ProposedState *domain.State

	// ValidatedState is set by the engine after the policies approve; it
	// is the state actually committed.
	ValidatedState *domain.State

	// Scratch carries data between rules within one attempt.
	Scratch map[string]any

	// Tx is the transaction every rule side effect must go through so that
	// rollback stays atomic.
	Tx repo.Tx
}

func newContext(run *domain.Run, proposed *domain.State, tx repo.Tx) *Context {
	t := &Context{
		Run:           run,
		ProposedState: proposed,
		Scratch:       map[string]any{},
		Tx:            tx,
	}
	if run.State != nil {
		t.InitialState = *run.State
	}
	return t
}

// FromType is the type of the run's state when the attempt began.
func (t *Context) FromType() domain.StateType {
	return t.InitialState.Type
}

// ToType is the type currently proposed; it follows rule mutations.
func (t *Context) ToType() domain.StateType {
	if t.ProposedState == nil {
		return ""
	}
	return t.ProposedState.Type
}
