// Package postgres implements the persistence interfaces over a Postgres
// database. Row locking (SELECT ... FOR UPDATE) serializes transitions per
// run; guarded counter updates keep concurrency limits within capacity.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/platform/auditlog"
	"github.com/tideline-labs/tideline-go/internal/repo"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// WithinTx runs fn inside one database transaction. A non-nil error from fn
// rolls everything back, including the run row lock.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if fn == nil {
		return errors.New("transaction function is required")
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &storeTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// storeTx adapts one *sql.Tx to the repo.Tx surface.
type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) GetRunForUpdate(ctx context.Context, runID string) (domain.Run, error) {
	return getRun(ctx, t.tx, runID, true)
}

func (t *storeTx) UpdateRunState(ctx context.Context, runID string, state domain.State, runCount int) error {
	return updateRunState(ctx, t.tx, runID, state, runCount)
}

func (t *storeTx) AppendState(ctx context.Context, runID string, state domain.State) error {
	return appendState(ctx, t.tx, runID, state)
}

// IncrementConcurrency advances the tag's active count only while below
// capacity; the guard in the UPDATE keeps the invariant transactional. A
// tag without a limit row is unlimited.
func (t *storeTx) IncrementConcurrency(ctx context.Context, tag string) (bool, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false, errors.New("concurrency tag is required")
	}
	res, err := t.tx.ExecContext(
		ctx,
		`UPDATE concurrency_limits SET active = active + 1 WHERE tag = $1 AND active < capacity`,
		tag,
	)
	if err != nil {
		return false, fmt.Errorf("increment concurrency: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment concurrency: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	err = t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM concurrency_limits WHERE tag = $1)`, tag).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check concurrency limit: %w", err)
	}
	if !exists {
		return true, nil
	}
	return false, nil
}

func (t *storeTx) DecrementConcurrency(ctx context.Context, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("concurrency tag is required")
	}
	_, err := t.tx.ExecContext(
		ctx,
		`UPDATE concurrency_limits SET active = active - 1 WHERE tag = $1 AND active > 0`,
		tag,
	)
	if err != nil {
		return fmt.Errorf("decrement concurrency: %w", err)
	}
	return nil
}

func (t *storeTx) AppendAuditEvent(ctx context.Context, event domain.AuditEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, err := auditlog.Insert(ctx, t.tx, auditlog.Event{
		OccurredAt:   occurredAt,
		Actor:        "orchestration-engine",
		Action:       event.Action,
		ResourceType: "run",
		ResourceID:   event.RunID,
		Payload:      event.Payload,
	})
	return err
}
