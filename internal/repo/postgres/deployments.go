package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

func (s *Store) UpsertDeployment(ctx context.Context, d domain.Deployment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	tagsJSON, err := encodeTags(d.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO deployments (
			deployment_id, name, schedule_kind, schedule_interval_seconds, schedule_anchor, schedule_cron,
			is_schedule_active, tags, max_retries, retry_delay_seconds, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (deployment_id) DO UPDATE SET
			name = EXCLUDED.name,
			schedule_kind = EXCLUDED.schedule_kind,
			schedule_interval_seconds = EXCLUDED.schedule_interval_seconds,
			schedule_anchor = EXCLUDED.schedule_anchor,
			schedule_cron = EXCLUDED.schedule_cron,
			is_schedule_active = EXCLUDED.is_schedule_active,
			tags = EXCLUDED.tags,
			max_retries = EXCLUDED.max_retries,
			retry_delay_seconds = EXCLUDED.retry_delay_seconds`,
		strings.TrimSpace(d.ID),
		strings.TrimSpace(d.Name),
		string(d.Schedule.Kind),
		int64(d.Schedule.Interval/time.Second),
		nullIfZeroTime(d.Schedule.Anchor),
		nullIfEmpty(d.Schedule.Cron),
		d.IsScheduleActive,
		tagsJSON,
		d.Retry.MaxRetries,
		int64(d.Retry.RetryDelay/time.Second),
		normalizeTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert deployment: %w", err)
	}
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (domain.Deployment, error) {
	if s == nil || s.db == nil {
		return domain.Deployment{}, fmt.Errorf("store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Deployment{}, fmt.Errorf("deployment id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE deployment_id = $1`,
		id,
	)
	d, err := scanDeployment(row)
	if err != nil {
		return domain.Deployment{}, handleNotFound(err)
	}
	return d, nil
}

func (s *Store) ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE is_schedule_active ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
	}
	return deployments, nil
}

const deploymentColumns = `deployment_id, name, schedule_kind, schedule_interval_seconds, schedule_anchor, schedule_cron,
	is_schedule_active, tags, max_retries, retry_delay_seconds, created_at`

func scanDeployment(row rowScanner) (domain.Deployment, error) {
	var d domain.Deployment
	var intervalSeconds int64
	var anchor sql.NullTime
	var cron sql.NullString
	var tagsJSON []byte
	var retryDelaySeconds int64

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Schedule.Kind,
		&intervalSeconds,
		&anchor,
		&cron,
		&d.IsScheduleActive,
		&tagsJSON,
		&d.Retry.MaxRetries,
		&retryDelaySeconds,
		&d.CreatedAt,
	)
	if err != nil {
		return domain.Deployment{}, err
	}

	d.Schedule.Interval = time.Duration(intervalSeconds) * time.Second
	if anchor.Valid {
		d.Schedule.Anchor = anchor.Time.UTC()
	}
	if cron.Valid {
		d.Schedule.Cron = cron.String
	}
	tags, err := decodeTags(tagsJSON)
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("decode tags: %w", err)
	}
	d.Tags = tags
	d.Retry.RetryDelay = time.Duration(retryDelaySeconds) * time.Second
	return d, nil
}
