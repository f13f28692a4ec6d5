package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *SQLiteItemRepository {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	version, dirty, err := RunMigrations(db)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	return NewItemRepository(db)
}

func sampleItem(url string, createdAt time.Time) Item {
	published := createdAt.Add(-time.Hour)
	return Item{
		OriginalURL: url,
		Title:       "Title for " + url,
		SourceName:  "Example Wire",
		ContentRaw:  "Body text",
		PublishedAt: &published,
		CreatedAt:   createdAt,
	}
}

func sampleAnalysis() Analysis {
	return Analysis{
		SummaryShort:    "Short summary",
		SummaryDetailed: "Longer summary",
		SentimentScore:  0.4,
		SentimentLabel:  "Positive",
		Tags:            []string{"ai", "chips"},
		Category:        "Technology",
		Vocabulary:      []VocabularyEntry{{Word: "yield", Definition: "output", Example: "The yield rose."}},
		ModelUsed:       "gemini-flash-latest",
	}
}

func TestInsertItemIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, created, err := repo.InsertItem(ctx, sampleItem("https://example.com/a", time.Now()))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)

	again, created, err := repo.InsertItem(ctx, sampleItem("https://example.com/a", time.Now()))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	exists, err := repo.ExistsByURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByURL(ctx, "https://example.com/b")
	require.NoError(t, err)
	assert.False(t, exists)

	stats, err := repo.GetItemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)
}

func TestCompleteItem(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/a", time.Now()))
	require.NoError(t, err)

	require.NoError(t, repo.CompleteItem(ctx, id, sampleAnalysis()))

	item, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, StatusComplete, item.Status)
	require.NotNil(t, item.Category)
	assert.Equal(t, "Technology", *item.Category)
	require.NotNil(t, item.Analysis)
	assert.Equal(t, "Short summary", item.Analysis.SummaryShort)
	assert.Equal(t, []string{"ai", "chips"}, item.Analysis.Tags)
	assert.Equal(t, "yield", item.Analysis.Vocabulary[0].Word)
	assert.InDelta(t, 0.4, item.Analysis.SentimentScore, 1e-9)

	err = repo.CompleteItem(ctx, id, sampleAnalysis())
	assert.True(t, errors.Is(err, ErrNotPending))
}

func TestCompleteItemRollsBackOnAnalysisFailure(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/a", time.Now()))
	require.NoError(t, err)

	bad := sampleAnalysis()
	bad.SentimentScore = 3 // rejected by the CHECK constraint

	require.Error(t, repo.CompleteItem(ctx, id, bad))

	item, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Nil(t, item.Analysis)
	assert.Nil(t, item.Category)
}

func TestMarkFailed(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/a", time.Now()))
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, id))
	assert.ErrorIs(t, repo.MarkFailed(ctx, id), ErrNotPending)
	assert.ErrorIs(t, repo.CompleteItem(ctx, id, sampleAnalysis()), ErrNotPending)

	pending, err := repo.GetPendingItems(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetPendingItemsOldestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/new", now))
	require.NoError(t, err)
	_, _, err = repo.InsertItem(ctx, sampleItem("https://example.com/old", now.Add(-time.Hour)))
	require.NoError(t, err)

	pending, err := repo.GetPendingItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://example.com/old", pending[0].OriginalURL)
	assert.Equal(t, "Body text", pending[0].ContentRaw)
	require.NotNil(t, pending[0].PublishedAt)

	none, err := repo.GetPendingItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteStale(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	oldID, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/old", now.AddDate(0, 0, -40)))
	require.NoError(t, err)
	require.NoError(t, repo.CompleteItem(ctx, oldID, sampleAnalysis()))

	savedID, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/saved", now.AddDate(0, 0, -40)))
	require.NoError(t, err)
	found, err := repo.SetSaved(ctx, savedID, true)
	require.NoError(t, err)
	assert.True(t, found)

	freshID, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/fresh", now.AddDate(0, 0, -10)))
	require.NoError(t, err)

	deleted, err := repo.DeleteStale(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	gone, err := repo.GetItem(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	var orphans int
	require.NoError(t, repo.db.QueryRow(`SELECT COUNT(*) FROM ai_analysis WHERE news_id = ?`, oldID).Scan(&orphans))
	assert.Zero(t, orphans)

	for _, id := range []string{savedID, freshID} {
		item, err := repo.GetItem(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, item)
	}
}

func TestListItemsFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	techID, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/tech", now.Add(-time.Minute)))
	require.NoError(t, err)
	require.NoError(t, repo.CompleteItem(ctx, techID, sampleAnalysis()))

	sportsAnalysis := sampleAnalysis()
	sportsAnalysis.Category = "Sports"
	sportsAnalysis.SummaryShort = "Cup final recap"
	sportsID, _, err := repo.InsertItem(ctx, sampleItem("https://example.com/sports", now))
	require.NoError(t, err)
	require.NoError(t, repo.CompleteItem(ctx, sportsID, sportsAnalysis))
	_, err = repo.SetSaved(ctx, sportsID, true)
	require.NoError(t, err)

	_, _, err = repo.InsertItem(ctx, sampleItem("https://example.com/pending", now.Add(-2*time.Minute)))
	require.NoError(t, err)

	all, err := repo.ListItems(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, sportsID, all[0].ID)
	assert.Nil(t, all[2].Analysis)

	byCategory, err := repo.ListItems(ctx, ListFilter{Category: "Technology"})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, techID, byCategory[0].ID)

	saved := true
	bySaved, err := repo.ListItems(ctx, ListFilter{Saved: &saved})
	require.NoError(t, err)
	require.Len(t, bySaved, 1)
	assert.Equal(t, sportsID, bySaved[0].ID)

	byQuery, err := repo.ListItems(ctx, ListFilter{Query: "final recap"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, sportsID, byQuery[0].ID)

	byStatus, err := repo.ListItems(ctx, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)

	paged, err := repo.ListItems(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, techID, paged[0].ID)
}

func TestSetSavedUnknownItem(t *testing.T) {
	repo := newTestRepository(t)

	found, err := repo.SetSaved(context.Background(), "missing", true)
	require.NoError(t, err)
	assert.False(t, found)
}
