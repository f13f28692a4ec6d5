package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Sweeper deletes unsaved items past the retention window.
type Sweeper struct {
	store Store
}

func NewSweeper(store Store) *Sweeper {
	return &Sweeper{store: store}
}

// Sweep removes items created before now minus retentionDays that are not
// saved, whatever their status. A non-positive retention disables it.
func (s *Sweeper) Sweep(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	deleted, err := s.store.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep items older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}
