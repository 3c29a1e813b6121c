package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tideline-labs/tideline-go/internal/domain"
	"github.com/tideline-labs/tideline-go/internal/repo"
)

const runColumns = `run_id, deployment_id, run_type,
	state_id, state_type, state_name, state_timestamp, state_message, state_data, state_scheduled_time,
	expected_start_time, run_count, tags, max_retries, retry_delay_seconds, created_at`

func getRun(ctx context.Context, db DB, runID string, forUpdate bool) (domain.Run, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	row := db.QueryRowContext(ctx, query, runID)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var deploymentID sql.NullString
	var stateID sql.NullString
	var stateType sql.NullString
	var stateName sql.NullString
	var stateTimestamp sql.NullTime
	var stateMessage sql.NullString
	var stateData []byte
	var stateScheduled sql.NullTime
	var expectedStart sql.NullTime
	var tagsJSON []byte
	var retryDelaySeconds int64

	err := row.Scan(
		&run.ID,
		&deploymentID,
		&run.RunType,
		&stateID,
		&stateType,
		&stateName,
		&stateTimestamp,
		&stateMessage,
		&stateData,
		&stateScheduled,
		&expectedStart,
		&run.RunCount,
		&tagsJSON,
		&run.Retry.MaxRetries,
		&retryDelaySeconds,
		&run.CreatedAt,
	)
	if err != nil {
		return domain.Run{}, err
	}

	if deploymentID.Valid {
		run.DeploymentID = deploymentID.String
	}
	if stateID.Valid {
		state := domain.State{
			ID:        stateID.String,
			Type:      domain.StateType(stateType.String),
			Name:      stateName.String,
			Timestamp: stateTimestamp.Time.UTC(),
			Message:   stateMessage.String,
			Data:      stateData,
		}
		if stateScheduled.Valid {
			state.ScheduledTime = stateScheduled.Time.UTC()
		}
		run.State = &state
	}
	if expectedStart.Valid {
		run.ExpectedStartTime = expectedStart.Time.UTC()
	}
	tags, err := decodeTags(tagsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode tags: %w", err)
	}
	run.Tags = tags
	run.Retry.RetryDelay = time.Duration(retryDelaySeconds) * time.Second
	return run, nil
}

func insertRun(ctx context.Context, db DB, run domain.Run, idempotent bool) (bool, error) {
	if err := run.Validate(); err != nil {
		return false, err
	}
	if run.State == nil {
		return false, fmt.Errorf("run initial state is required")
	}
	if err := run.State.Validate(); err != nil {
		return false, fmt.Errorf("initial state: %w", err)
	}
	tagsJSON, err := encodeTags(run.Tags)
	if err != nil {
		return false, fmt.Errorf("encode tags: %w", err)
	}

	query := `INSERT INTO runs (
		run_id, deployment_id, run_type,
		state_id, state_type, state_name, state_timestamp, state_message, state_data, state_scheduled_time,
		expected_start_time, run_count, tags, max_retries, retry_delay_seconds, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	if idempotent {
		query += ` ON CONFLICT (deployment_id, expected_start_time) DO NOTHING`
	}

	res, err := db.ExecContext(
		ctx,
		query,
		strings.TrimSpace(run.ID),
		nullIfEmpty(run.DeploymentID),
		string(run.RunType),
		run.State.ID,
		string(run.State.Type),
		run.State.Name,
		normalizeTime(run.State.Timestamp),
		run.State.Message,
		run.State.Data,
		nullIfZeroTime(run.State.ScheduledTime),
		nullIfZeroTime(run.ExpectedStartTime),
		run.RunCount,
		tagsJSON,
		run.Retry.MaxRetries,
		int64(run.Retry.RetryDelay/time.Second),
		normalizeTime(run.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	if err := appendState(ctx, db, run.ID, *run.State); err != nil {
		return false, err
	}
	return true, nil
}

func appendState(ctx context.Context, db DB, runID string, state domain.State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO run_states (
			state_id, run_id, state_type, state_name, state_timestamp, state_message, state_data, state_scheduled_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		state.ID,
		strings.TrimSpace(runID),
		string(state.Type),
		state.Name,
		state.Timestamp.UTC(),
		state.Message,
		state.Data,
		nullIfZeroTime(state.ScheduledTime),
	)
	if err != nil {
		return fmt.Errorf("append run state: %w", err)
	}
	return nil
}

func updateRunState(ctx context.Context, db DB, runID string, state domain.State, runCount int) error {
	if err := state.Validate(); err != nil {
		return err
	}
	res, err := db.ExecContext(
		ctx,
		`UPDATE runs SET
			state_id = $1,
			state_type = $2,
			state_name = $3,
			state_timestamp = $4,
			state_message = $5,
			state_data = $6,
			state_scheduled_time = $7,
			run_count = $8
		WHERE run_id = $9`,
		state.ID,
		string(state.Type),
		state.Name,
		state.Timestamp.UTC(),
		state.Message,
		state.Data,
		nullIfZeroTime(state.ScheduledTime),
		runCount,
		strings.TrimSpace(runID),
	)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("store not initialized")
	}
	return getRun(ctx, s.db, runID, false)
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if _, err := insertRun(ctx, s.db, run, false); err != nil {
		return err
	}
	return nil
}

// GetOrCreateScheduledRun inserts a Scheduled run keyed on the deployment
// and occurrence time. The unique constraint on (deployment_id,
// expected_start_time) is the idempotency mechanism: a conflict means the
// occurrence already exists and is silently skipped.
func (s *Store) GetOrCreateScheduledRun(ctx context.Context, deploymentID string, expectedStart time.Time, initial domain.State, tags []string, retry domain.RetryPolicy) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("store not initialized")
	}
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return false, fmt.Errorf("deployment id is required")
	}
	if expectedStart.IsZero() {
		return false, fmt.Errorf("expected start time is required")
	}
	run := domain.Run{
		ID:                uuid.NewString(),
		DeploymentID:      deploymentID,
		RunType:           domain.RunTypeFlow,
		State:             &initial,
		ExpectedStartTime: expectedStart.UTC(),
		Tags:              tags,
		Retry:             retry,
		CreatedAt:         time.Now().UTC(),
	}
	return insertRun(ctx, s.db, run, true)
}

func (s *Store) ListLateScheduledRuns(ctx context.Context, filter repo.LateRunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if filter.Before.IsZero() {
		return nil, fmt.Errorf("before bound is required")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 400
	}

	// Lateness keys off the current state's scheduled time, not the run's
	// original expected start: a retry parked in the future keeps its
	// backoff even though the first occurrence is long past.
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+`
		 FROM runs
		 WHERE state_type = $1
		   AND state_name <> $2
		   AND state_scheduled_time IS NOT NULL
		   AND state_scheduled_time < $3
		 ORDER BY state_scheduled_time
		 LIMIT $4`,
		string(domain.StateTypeScheduled),
		domain.StateNameLate,
		filter.Before.UTC(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list late scheduled runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list late scheduled runs: %w", err)
	}
	return runs, nil
}
