package domain

import (
	"errors"
	"strings"
	"time"
)

// AuditEvent records one committed run transition in the append-only trail.
type AuditEvent struct {
	OccurredAt time.Time
	Action     string
	RunID      string
	Payload    map[string]any
}

func (e AuditEvent) Validate() error {
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("audit action is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("audit run id is required")
	}
	return nil
}
