package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

// UpsertConcurrencyLimit defines or resizes a tag's capacity. The active
// count is left alone so resizing never forgets held slots.
func (s *Store) UpsertConcurrencyLimit(ctx context.Context, limit domain.ConcurrencyLimit) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := limit.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO concurrency_limits (tag, capacity, active)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tag) DO UPDATE SET capacity = EXCLUDED.capacity`,
		strings.TrimSpace(limit.Tag),
		limit.Capacity,
		limit.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert concurrency limit: %w", err)
	}
	return nil
}

func (s *Store) GetConcurrencyLimit(ctx context.Context, tag string) (domain.ConcurrencyLimit, error) {
	if s == nil || s.db == nil {
		return domain.ConcurrencyLimit{}, fmt.Errorf("store not initialized")
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return domain.ConcurrencyLimit{}, fmt.Errorf("concurrency tag is required")
	}
	var limit domain.ConcurrencyLimit
	row := s.db.QueryRowContext(
		ctx,
		`SELECT tag, capacity, active FROM concurrency_limits WHERE tag = $1`,
		tag,
	)
	if err := row.Scan(&limit.Tag, &limit.Capacity, &limit.Active); err != nil {
		return domain.ConcurrencyLimit{}, handleNotFound(err)
	}
	return limit, nil
}
