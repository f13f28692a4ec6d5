package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotPending is returned when a status transition targets an item that is
// no longer pending.
var ErrNotPending = errors.New("item is not pending")

type ItemRepository interface {
	ExistsByURL(ctx context.Context, originalURL string) (bool, error)
	// InsertItem is idempotent on the original URL: a conflicting insert
	// returns the existing id with created=false.
	InsertItem(ctx context.Context, item Item) (id string, created bool, err error)
	// CompleteItem stores the analysis and flips the item to complete as one
	// unit. Nothing is written when either step fails.
	CompleteItem(ctx context.Context, itemID string, analysis Analysis) error
	MarkFailed(ctx context.Context, itemID string) error
	GetPendingItems(ctx context.Context, limit int) ([]Item, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)

	ListItems(ctx context.Context, filter ListFilter) ([]ItemWithAnalysis, error)
	GetItem(ctx context.Context, itemID string) (*ItemWithAnalysis, error)
	SetSaved(ctx context.Context, itemID string, saved bool) (bool, error)
	GetItemStats(ctx context.Context) (ItemStats, error)
}
