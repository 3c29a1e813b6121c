package domain

import (
	"errors"
	"strings"
)

// ConcurrencyLimit caps how many runs may hold a tag in the Running state at
// once. Active counts are maintained transactionally by the persistence
// layer; they never go negative and never exceed Capacity.
type ConcurrencyLimit struct {
	Tag      string
	Capacity int
	Active   int
}

func (l ConcurrencyLimit) Validate() error {
	if strings.TrimSpace(l.Tag) == "" {
		return errors.New("concurrency tag is required")
	}
	if l.Capacity < 0 {
		return errors.New("capacity must be >= 0")
	}
	if l.Active < 0 {
		return errors.New("active count must be >= 0")
	}
	if l.Active > l.Capacity {
		return errors.New("active count exceeds capacity")
	}
	return nil
}
