package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
)

var _ ItemRepository = (*SupabaseItemRepository)(nil)

const (
	itemsTable    = "news_items"
	analysisTable = "ai_analysis"

	DefaultSupabaseCallTimeout = 15 * time.Second
)

// TableClient is satisfied by both *supabase.Client and *postgrest.Client.
type TableClient interface {
	From(table string) *postgrest.QueryBuilder
}

// SupabaseItemRepository stores items in a hosted Postgres through the PostgREST API.
// The schema mirrors the SQLite migrations with timestamptz columns,
// ON DELETE CASCADE from ai_analysis.news_id to news_items.id and a unique
// index on ai_analysis.news_id.
type SupabaseItemRepository struct {
	client      TableClient
	callTimeout time.Duration
}

type SupabaseOption func(*SupabaseItemRepository)

// WithCallTimeout bounds every PostgREST request.
func WithCallTimeout(timeout time.Duration) SupabaseOption {
	return func(r *SupabaseItemRepository) {
		if timeout > 0 {
			r.callTimeout = timeout
		}
	}
}

func NewSupabaseItemRepository(client TableClient, opts ...SupabaseOption) *SupabaseItemRepository {
	r := &SupabaseItemRepository{
		client:      client,
		callTimeout: DefaultSupabaseCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type supabaseItemRow struct {
	ID               string          `json:"id"`
	OriginalURL      string          `json:"original_url"`
	Title            string          `json:"title"`
	SourceName       string          `json:"source_name"`
	ContentRaw       string          `json:"content_raw"`
	PublishedAt      *time.Time      `json:"published_at"`
	ProcessingStatus string          `json:"processing_status"`
	Category         *string         `json:"category"`
	IsSaved          bool            `json:"is_saved"`
	CreatedAt        time.Time       `json:"created_at"`
	Analysis         json.RawMessage `json:"ai_analysis,omitempty"`
}

type supabaseAnalysisRow struct {
	NewsID          string            `json:"news_id"`
	SummaryShort    string            `json:"summary_short"`
	SummaryDetailed string            `json:"summary_detailed"`
	SentimentScore  float64           `json:"sentiment_score"`
	SentimentLabel  string            `json:"sentiment_label"`
	Tags            []string          `json:"tags"`
	Category        string            `json:"category"`
	Vocabulary      []VocabularyEntry `json:"vocabulary"`
	ModelUsed       string            `json:"model_used"`
	CreatedAt       time.Time         `json:"created_at"`
}

type idRow struct {
	ID string `json:"id"`
}

// call runs one PostgREST request under ctx and the call timeout. The client
// takes no context, so the request runs on its own goroutine; when ctx ends
// first the request is abandoned and finishes in the background.
func (r *SupabaseItemRepository) call(ctx context.Context, request func() error) error {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- request()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("supabase request abandoned: %w", ctx.Err())
	}
}

func (r *SupabaseItemRepository) ExistsByURL(ctx context.Context, originalURL string) (bool, error) {
	var rows []idRow
	err := r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Select("id", "", false).
			Eq("original_url", originalURL).
			Limit(1, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return len(rows) > 0, nil
}

func (r *SupabaseItemRepository) InsertItem(ctx context.Context, item Item) (string, bool, error) {
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := supabaseItemRow{
		ID:               uuid.NewString(),
		OriginalURL:      item.OriginalURL,
		Title:            item.Title,
		SourceName:       item.SourceName,
		ContentRaw:       item.ContentRaw,
		PublishedAt:      item.PublishedAt,
		ProcessingStatus: string(StatusPending),
		IsSaved:          item.IsSaved,
		CreatedAt:        createdAt.UTC(),
	}

	err := r.call(ctx, func() error {
		_, _, err := r.client.From(itemsTable).Insert(row, false, "", "minimal", "").Execute()
		return err
	})
	if err == nil {
		return row.ID, true, nil
	}
	if !isDuplicateKey(err) {
		return "", false, fmt.Errorf("failed to insert item: %w", err)
	}

	var rows []idRow
	err = r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Select("id", "", false).
			Eq("original_url", item.OriginalURL).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to load existing item: %w", err)
	}
	if len(rows) == 0 {
		return "", false, fmt.Errorf("duplicate item %s vanished before lookup", item.OriginalURL)
	}
	return rows[0].ID, false, nil
}

// CompleteItem upserts the analysis and then flips the status. PostgREST has no
// multi-statement transaction: when the flip definitely did not apply to a
// still unfinished item the analysis is removed again, and a leftover from an
// interrupted call is overwritten by the next attempt.
func (r *SupabaseItemRepository) CompleteItem(ctx context.Context, itemID string, analysis Analysis) error {
	createdAt := analysis.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := supabaseAnalysisRow{
		NewsID:          itemID,
		SummaryShort:    analysis.SummaryShort,
		SummaryDetailed: analysis.SummaryDetailed,
		SentimentScore:  analysis.SentimentScore,
		SentimentLabel:  analysis.SentimentLabel,
		Tags:            nonNilTags(analysis.Tags),
		Category:        analysis.Category,
		Vocabulary:      nonNilVocabulary(analysis.Vocabulary),
		ModelUsed:       analysis.ModelUsed,
		CreatedAt:       createdAt.UTC(),
	}

	err := r.call(ctx, func() error {
		_, _, err := r.client.From(analysisTable).Insert(row, true, "news_id", "minimal", "").Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}

	updated, err := r.updatePending(ctx, itemID, map[string]any{
		"processing_status": string(StatusComplete),
		"category":          analysis.Category,
	})
	if err != nil {
		// The update may still land, so the analysis stays for it.
		return err
	}
	if updated {
		return nil
	}

	err = fmt.Errorf("complete item %s: %w", itemID, ErrNotPending)

	status, statusErr := r.itemStatus(ctx, itemID)
	if statusErr != nil {
		return errors.Join(err, statusErr)
	}
	if status == StatusComplete {
		return err
	}

	rbErr := r.call(ctx, func() error {
		_, _, err := r.client.From(analysisTable).Delete("minimal", "").Eq("news_id", itemID).Execute()
		return err
	})
	if rbErr != nil {
		return errors.Join(err, fmt.Errorf("failed to remove orphaned analysis: %w", rbErr))
	}
	return err
}

func (r *SupabaseItemRepository) MarkFailed(ctx context.Context, itemID string) error {
	updated, err := r.updatePending(ctx, itemID, map[string]any{
		"processing_status": string(StatusFailed),
	})
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("mark item %s failed: %w", itemID, ErrNotPending)
	}
	return nil
}

func (r *SupabaseItemRepository) GetPendingItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []supabaseItemRow
	err := r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Select("*", "", false).
			Eq("processing_status", string(StatusPending)).
			Order("created_at", &postgrest.OrderOpts{Ascending: true}).
			Limit(limit, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending items: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toItem())
	}
	return items, nil
}

func (r *SupabaseItemRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	threshold := cutoff.UTC().Format(time.RFC3339Nano)

	var stale []idRow
	err := r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Select("id", "", false).
			Lt("created_at", threshold).
			Eq("is_saved", "false").
			ExecuteTo(&stale)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find stale items: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}

	err = r.call(ctx, func() error {
		_, _, err := r.client.From(analysisTable).Delete("minimal", "").In("news_id", ids).Execute()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale analyses: %w", err)
	}

	var deleted []idRow
	err = r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Delete("representation", "").
			In("id", ids).
			Eq("is_saved", "false").
			ExecuteTo(&deleted)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale items: %w", err)
	}
	return int64(len(deleted)), nil
}

func (r *SupabaseItemRepository) ListItems(ctx context.Context, filter ListFilter) ([]ItemWithAnalysis, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := r.client.From(itemsTable).Select("*, ai_analysis(*)", "", false)
	if filter.Category != "" {
		q = q.Eq("category", filter.Category)
	}
	if filter.Status != "" {
		q = q.Eq("processing_status", string(filter.Status))
	}
	if filter.Saved != nil {
		q = q.Eq("is_saved", strconv.FormatBool(*filter.Saved))
	}
	if search := searchFilter(filter.Query); search != "" {
		q = q.Or(search, "")
	}

	var rows []supabaseItemRow
	err := r.call(ctx, func() error {
		_, err := q.Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			Range(filter.Offset, filter.Offset+limit-1, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	items := make([]ItemWithAnalysis, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toItemWithAnalysis()
		if err != nil {
			return nil, err
		}
		items = append(items, entry)
	}
	return items, nil
}

func (r *SupabaseItemRepository) GetItem(ctx context.Context, itemID string) (*ItemWithAnalysis, error) {
	var rows []supabaseItemRow
	err := r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Select("*, ai_analysis(*)", "", false).
			Eq("id", itemID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	entry, err := rows[0].toItemWithAnalysis()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *SupabaseItemRepository) SetSaved(ctx context.Context, itemID string, saved bool) (bool, error) {
	var rows []idRow
	err := r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Update(map[string]any{"is_saved": saved}, "representation", "").
			Eq("id", itemID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update saved flag: %w", err)
	}
	return len(rows) > 0, nil
}

func (r *SupabaseItemRepository) GetItemStats(ctx context.Context) (ItemStats, error) {
	var stats ItemStats
	counts := []struct {
		target *int
		column string
		value  string
	}{
		{&stats.Total, "", ""},
		{&stats.Pending, "processing_status", string(StatusPending)},
		{&stats.Complete, "processing_status", string(StatusComplete)},
		{&stats.Failed, "processing_status", string(StatusFailed)},
		{&stats.Saved, "is_saved", "true"},
	}

	for _, c := range counts {
		q := r.client.From(itemsTable).Select("id", "exact", true)
		if c.column != "" {
			q = q.Eq(c.column, c.value)
		}
		var count int64
		err := r.call(ctx, func() error {
			var err error
			_, count, err = q.Execute()
			return err
		})
		if err != nil {
			return ItemStats{}, fmt.Errorf("failed to get item stats: %w", err)
		}
		*c.target = int(count)
	}
	return stats, nil
}

func (r *SupabaseItemRepository) updatePending(ctx context.Context, itemID string, values map[string]any) (bool, error) {
	var rows []idRow
	err := r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Update(values, "representation", "").
			Eq("id", itemID).
			Eq("processing_status", string(StatusPending)).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update item status: %w", err)
	}
	return len(rows) > 0, nil
}

func (r *SupabaseItemRepository) itemStatus(ctx context.Context, itemID string) (ItemStatus, error) {
	var rows []struct {
		ProcessingStatus string `json:"processing_status"`
	}
	err := r.call(ctx, func() error {
		_, err := r.client.From(itemsTable).
			Select("processing_status", "", false).
			Eq("id", itemID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to read item status: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return ItemStatus(rows[0].ProcessingStatus), nil
}

// searchFilter builds the PostgREST or-filter matching the title, the short
// summary or a tag. Text values are quoted so the term may contain filter
// syntax. Tags match whole values and only for plain terms.
func searchFilter(query string) string {
	term := strings.TrimSpace(strings.NewReplacer("*", "", "%", "").Replace(query))
	if term == "" {
		return ""
	}

	pattern := `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace("*"+term+"*") + `"`
	clauses := []string{
		"title.ilike." + pattern,
		analysisTable + ".summary_short.ilike." + pattern,
	}
	if !strings.ContainsAny(term, ` ,.:(){}"\`) {
		clauses = append(clauses, analysisTable+".tags.cs.{"+term+"}")
	}
	return strings.Join(clauses, ",")
}

func (row supabaseItemRow) toItem() Item {
	return Item{
		ID:          row.ID,
		OriginalURL: row.OriginalURL,
		Title:       row.Title,
		SourceName:  row.SourceName,
		ContentRaw:  row.ContentRaw,
		PublishedAt: row.PublishedAt,
		Status:      ItemStatus(row.ProcessingStatus),
		Category:    row.Category,
		IsSaved:     row.IsSaved,
		CreatedAt:   row.CreatedAt.UTC(),
	}
}

func (row supabaseItemRow) toItemWithAnalysis() (ItemWithAnalysis, error) {
	entry := ItemWithAnalysis{Item: row.toItem()}

	raw := bytes.TrimSpace(row.Analysis)
	if len(raw) == 0 || string(raw) == "null" {
		return entry, nil
	}

	// Embedded one-to-one relations come back as an object, older
	// PostgREST versions return a single element array.
	var analysis *supabaseAnalysisRow
	if strings.HasPrefix(string(raw), "[") {
		var list []supabaseAnalysisRow
		if err := json.Unmarshal(raw, &list); err != nil {
			return entry, fmt.Errorf("failed to decode analysis: %w", err)
		}
		if len(list) > 0 {
			analysis = &list[0]
		}
	} else {
		analysis = &supabaseAnalysisRow{}
		if err := json.Unmarshal(raw, analysis); err != nil {
			return entry, fmt.Errorf("failed to decode analysis: %w", err)
		}
	}

	if analysis != nil {
		entry.Analysis = &Analysis{
			ItemID:          row.ID,
			SummaryShort:    analysis.SummaryShort,
			SummaryDetailed: analysis.SummaryDetailed,
			SentimentScore:  analysis.SentimentScore,
			SentimentLabel:  analysis.SentimentLabel,
			Tags:            analysis.Tags,
			Category:        analysis.Category,
			Vocabulary:      analysis.Vocabulary,
			ModelUsed:       analysis.ModelUsed,
			CreatedAt:       analysis.CreatedAt.UTC(),
		}
	}
	return entry, nil
}

func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
