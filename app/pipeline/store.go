package pipeline

import (
	"context"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
)

// Store is the part of the item repository the pipeline writes through.
type Store interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	InsertItem(ctx context.Context, item database.Item) (string, bool, error)
	CompleteItem(ctx context.Context, itemID string, analysis database.Analysis) error
	MarkFailed(ctx context.Context, itemID string) error
	GetPendingItems(ctx context.Context, limit int) ([]database.Item, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ Store = (*database.SQLiteItemRepository)(nil)
	_ Store = (*database.SupabaseItemRepository)(nil)
)
