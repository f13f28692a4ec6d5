package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/enrich"
	"github.com/lysyi3m/news-comb/app/feed"
)

// Writer is the only component that mutates items during a run.
type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// CommitNew stores the candidate as a pending item. created is false when an
// item with the same URL already existed, in which case its id is returned.
func (w *Writer) CommitNew(ctx context.Context, candidate feed.Candidate, now time.Time) (string, bool, error) {
	id, created, err := w.store.InsertItem(ctx, database.Item{
		OriginalURL: candidate.CanonicalURL,
		Title:       candidate.Title,
		SourceName:  candidate.SourceName,
		ContentRaw:  candidate.Text(),
		PublishedAt: candidate.PublishedAt,
		CreatedAt:   now,
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return id, created, nil
}

// CommitAnalysis stores result and marks the item complete as one unit. On
// error nothing is written and the item stays pending.
func (w *Writer) CommitAnalysis(ctx context.Context, itemID string, result *enrich.Result, capability string) error {
	if err := w.store.CompleteItem(ctx, itemID, toAnalysis(itemID, result, capability)); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return nil
}

func (w *Writer) MarkFailed(ctx context.Context, itemID string) error {
	if err := w.store.MarkFailed(ctx, itemID); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return nil
}

func toAnalysis(itemID string, result *enrich.Result, capability string) database.Analysis {
	vocabulary := make([]database.VocabularyEntry, 0, len(result.Vocabulary))
	for _, entry := range result.Vocabulary {
		vocabulary = append(vocabulary, database.VocabularyEntry{
			Word:       entry.Word,
			Definition: entry.Definition,
			Example:    entry.Example,
		})
	}

	return database.Analysis{
		ItemID:          itemID,
		SummaryShort:    result.SummaryShort,
		SummaryDetailed: result.SummaryDetailed,
		SentimentScore:  result.SentimentScore,
		SentimentLabel:  result.SentimentLabel,
		Tags:            result.Tags,
		Category:        result.Category,
		Vocabulary:      vocabulary,
		ModelUsed:       capability,
	}
}
