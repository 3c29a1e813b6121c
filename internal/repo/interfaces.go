package repo

import (
	"context"
	"errors"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// LateRunFilter bounds the overdue-run query.
type LateRunFilter struct {
	Before time.Time
	Limit  int
}

// Tx is the transaction-scoped persistence surface the orchestration engine
// and its rules operate on. Every mutation made through a Tx commits or
// rolls back atomically with the transition attempt.
type Tx interface {
	// GetRunForUpdate loads a run and acquires an exclusive row lock held
	// until the transaction ends, serializing transitions per run.
	GetRunForUpdate(ctx context.Context, runID string) (domain.Run, error)

	// UpdateRunState sets the run's current state pointer and run count.
	UpdateRunState(ctx context.Context, runID string, state domain.State, runCount int) error

	// AppendState appends a state to the run's immutable history.
	AppendState(ctx context.Context, runID string, state domain.State) error

	// IncrementConcurrency takes one slot for the tag. It returns false
	// when the tag is at capacity; the count is never advanced past it.
	IncrementConcurrency(ctx context.Context, tag string) (bool, error)

	// DecrementConcurrency releases one slot for the tag, never dropping
	// the count below zero.
	DecrementConcurrency(ctx context.Context, tag string) error

	// AppendAuditEvent adds an event to the append-only audit trail as
	// part of the transaction.
	AppendAuditEvent(ctx context.Context, event domain.AuditEvent) error
}

// Store is the root persistence interface consumed by the engine and the
// background services.
type Store interface {
	// WithinTx runs fn inside a single transaction. A non-nil error from
	// fn rolls back everything fn did through the Tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetRun loads a run without locking it.
	GetRun(ctx context.Context, runID string) (domain.Run, error)

	// CreateRun inserts a new run together with its initial state.
	CreateRun(ctx context.Context, run domain.Run) error

	// GetOrCreateScheduledRun idempotently inserts a Scheduled run keyed on
	// (deployment id, expected start time). It reports whether a new run
	// was created; an existing run is not an error.
	GetOrCreateScheduledRun(ctx context.Context, deploymentID string, expectedStart time.Time, initial domain.State, tags []string, retry domain.RetryPolicy) (created bool, err error)

	// ListLateScheduledRuns returns runs still in the Scheduled type whose
	// current state's scheduled time is before the filter bound. Runs
	// already named Late and runs rescheduled into the future (retries)
	// are excluded.
	ListLateScheduledRuns(ctx context.Context, filter LateRunFilter) ([]domain.Run, error)
}

// DeploymentStore manages deployments and their schedules.
type DeploymentStore interface {
	UpsertDeployment(ctx context.Context, deployment domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (domain.Deployment, error)
	ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error)
}

// ConcurrencyStore manages concurrency-limit definitions outside the
// transition path; slot accounting itself goes through Tx.
type ConcurrencyStore interface {
	UpsertConcurrencyLimit(ctx context.Context, limit domain.ConcurrencyLimit) error
	GetConcurrencyLimit(ctx context.Context, tag string) (domain.ConcurrencyLimit, error)
}
