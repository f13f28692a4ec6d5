package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var _ ItemRepository = (*SQLiteItemRepository)(nil)

const defaultListLimit = 50

// SQLiteItemRepository handles database operations for news items and their analyses
type SQLiteItemRepository struct {
	db *DB
}

// NewItemRepository creates a new SQLite-backed item repository
func NewItemRepository(db *DB) *SQLiteItemRepository {
	return &SQLiteItemRepository{db: db}
}

// ExistsByURL checks whether an item with the given canonical URL is stored
func (r *SQLiteItemRepository) ExistsByURL(ctx context.Context, originalURL string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM news_items WHERE original_url = ? LIMIT 1`, originalURL).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return true, nil
}

// InsertItem stores a new pending item. A second insert of the same URL is a no-op
// that returns the id of the row already present.
func (r *SQLiteItemRepository) InsertItem(ctx context.Context, item Item) (string, bool, error) {
	id := uuid.NewString()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO news_items (
			id, original_url, title, source_name, content_raw,
			published_at, processing_status, is_saved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (original_url) DO NOTHING
	`, id, item.OriginalURL, item.Title, item.SourceName, item.ContentRaw,
		formatNullTime(item.PublishedAt), string(StatusPending), item.IsSaved, formatTime(createdAt))
	if err != nil {
		return "", false, fmt.Errorf("failed to insert item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 1 {
		return id, true, nil
	}

	var existingID string
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM news_items WHERE original_url = ?`, item.OriginalURL).Scan(&existingID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load existing item: %w", err)
	}
	return existingID, false, nil
}

// CompleteItem writes the analysis and marks the item complete in a single transaction
func (r *SQLiteItemRepository) CompleteItem(ctx context.Context, itemID string, analysis Analysis) error {
	tags, err := json.Marshal(nonNilTags(analysis.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	vocabulary, err := json.Marshal(nonNilVocabulary(analysis.Vocabulary))
	if err != nil {
		return fmt.Errorf("failed to encode vocabulary: %w", err)
	}
	createdAt := analysis.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE news_items
		SET processing_status = ?, category = ?
		WHERE id = ? AND processing_status = ?
	`, string(StatusComplete), analysis.Category, itemID, string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	} else if affected == 0 {
		return fmt.Errorf("complete item %s: %w", itemID, ErrNotPending)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ai_analysis (
			news_id, summary_short, summary_detailed, sentiment_score, sentiment_label,
			tags, category, vocabulary, model_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, itemID, analysis.SummaryShort, analysis.SummaryDetailed, analysis.SentimentScore,
		analysis.SentimentLabel, string(tags), analysis.Category, string(vocabulary),
		analysis.ModelUsed, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}
	return nil
}

// MarkFailed moves a pending item to failed
func (r *SQLiteItemRepository) MarkFailed(ctx context.Context, itemID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE news_items SET processing_status = ?
		WHERE id = ? AND processing_status = ?
	`, string(StatusFailed), itemID, string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark item %s failed: %w", itemID, ErrNotPending)
	}
	return nil
}

// GetPendingItems returns the oldest pending items, up to limit
func (r *SQLiteItemRepository) GetPendingItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := itemSelect().
		Where(sq.Eq{"i.processing_status": string(StatusPending)}).
		OrderBy("i.created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build pending query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		entry, err := scanItemWithAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, entry.Item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	return items, nil
}

// DeleteStale removes unsaved items created before cutoff together with their analyses
func (r *SQLiteItemRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	threshold := formatTime(cutoff)

	_, err = tx.ExecContext(ctx, `
		DELETE FROM ai_analysis
		WHERE news_id IN (
			SELECT id FROM news_items WHERE created_at < ? AND is_saved = 0
		)
	`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale analyses: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM news_items WHERE created_at < ? AND is_saved = 0`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale items: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

// ListItems returns items joined with their analysis, newest first
func (r *SQLiteItemRepository) ListItems(ctx context.Context, filter ListFilter) ([]ItemWithAnalysis, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := itemSelect().OrderBy("i.created_at DESC").Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	if filter.Category != "" {
		q = q.Where(sq.Eq{"i.category": filter.Category})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"i.processing_status": string(filter.Status)})
	}
	if filter.Saved != nil {
		q = q.Where(sq.Eq{"i.is_saved": *filter.Saved})
	}
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		q = q.Where(sq.Or{
			sq.Like{"i.title": like},
			sq.Like{"a.summary_short": like},
			sq.Like{"a.tags": like},
		})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []ItemWithAnalysis
	for rows.Next() {
		entry, err := scanItemWithAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	return items, nil
}

// GetItem returns a single item, or nil when it does not exist
func (r *SQLiteItemRepository) GetItem(ctx context.Context, itemID string) (*ItemWithAnalysis, error) {
	query, args, err := itemSelect().Where(sq.Eq{"i.id": itemID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating item rows: %w", err)
		}
		return nil, nil
	}
	return scanItemWithAnalysis(rows)
}

// SetSaved toggles the saved flag. Saved items are exempt from retention.
func (r *SQLiteItemRepository) SetSaved(ctx context.Context, itemID string, saved bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE news_items SET is_saved = ? WHERE id = ?`, saved, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to update saved flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return affected > 0, nil
}

// GetItemStats returns item counts by processing status
func (r *SQLiteItemRepository) GetItemStats(ctx context.Context) (ItemStats, error) {
	var stats ItemStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN processing_status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processing_status = 'complete' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processing_status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_saved = 1 THEN 1 ELSE 0 END), 0)
		FROM news_items
	`).Scan(&stats.Total, &stats.Pending, &stats.Complete, &stats.Failed, &stats.Saved)
	if err != nil {
		return ItemStats{}, fmt.Errorf("failed to get item stats: %w", err)
	}
	return stats, nil
}

func itemSelect() sq.SelectBuilder {
	return sq.Select(
		"i.id", "i.original_url", "i.title", "i.source_name", "i.content_raw",
		"i.published_at", "i.processing_status", "i.category", "i.is_saved", "i.created_at",
		"a.summary_short", "a.summary_detailed", "a.sentiment_score", "a.sentiment_label",
		"a.tags", "a.category", "a.vocabulary", "a.model_used", "a.created_at",
	).
		From("news_items i").
		LeftJoin("ai_analysis a ON a.news_id = i.id")
}

func scanItemWithAnalysis(rows *sql.Rows) (*ItemWithAnalysis, error) {
	var (
		entry       ItemWithAnalysis
		publishedAt sql.NullString
		status      string
		category    sql.NullString
		createdAt   string

		summaryShort    sql.NullString
		summaryDetailed sql.NullString
		sentimentScore  sql.NullFloat64
		sentimentLabel  sql.NullString
		tags            sql.NullString
		aCategory       sql.NullString
		vocabulary      sql.NullString
		modelUsed       sql.NullString
		aCreatedAt      sql.NullString
	)

	err := rows.Scan(
		&entry.ID, &entry.OriginalURL, &entry.Title, &entry.SourceName, &entry.ContentRaw,
		&publishedAt, &status, &category, &entry.IsSaved, &createdAt,
		&summaryShort, &summaryDetailed, &sentimentScore, &sentimentLabel,
		&tags, &aCategory, &vocabulary, &modelUsed, &aCreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan item row: %w", err)
	}

	entry.PublishedAt = parseNullTime(publishedAt)
	entry.Status = ItemStatus(status)
	if category.Valid {
		entry.Category = &category.String
	}
	entry.CreatedAt = parseTime(createdAt)

	if !summaryShort.Valid {
		return &entry, nil
	}

	analysis := &Analysis{
		ItemID:          entry.ID,
		SummaryShort:    summaryShort.String,
		SummaryDetailed: summaryDetailed.String,
		SentimentScore:  sentimentScore.Float64,
		SentimentLabel:  sentimentLabel.String,
		Category:        aCategory.String,
		ModelUsed:       modelUsed.String,
		CreatedAt:       parseTime(aCreatedAt.String),
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &analysis.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if vocabulary.Valid && vocabulary.String != "" {
		if err := json.Unmarshal([]byte(vocabulary.String), &analysis.Vocabulary); err != nil {
			return nil, fmt.Errorf("failed to decode vocabulary: %w", err)
		}
	}
	entry.Analysis = analysis

	return &entry, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilVocabulary(vocabulary []VocabularyEntry) []VocabularyEntry {
	if vocabulary == nil {
		return []VocabularyEntry{}
	}
	return vocabulary
}
