package api

import (
	"context"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
)

// ItemReader is what the read API needs from the store.
type ItemReader interface {
	ListItems(ctx context.Context, filter database.ListFilter) ([]database.ItemWithAnalysis, error)
	GetItem(ctx context.Context, id string) (*database.ItemWithAnalysis, error)
	SetSaved(ctx context.Context, id string, saved bool) (bool, error)
	GetItemStats(ctx context.Context) (database.ItemStats, error)
}

var _ ItemReader = (database.ItemRepository)(nil)

type GeneratorInterface interface {
	Run(items []database.ItemWithAnalysis) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// SourceLister exposes the loaded source configurations.
type SourceLister interface {
	GetEnabledConfigs() []*feed.Config
	GetConfigCount() int
}

var _ SourceLister = (*feed.ConfigCache)(nil)

type Handler struct {
	itemRepo    ItemReader
	generator   GeneratorInterface
	configCache SourceLister
}

type itemResponse struct {
	ID          string            `json:"id"`
	OriginalURL string            `json:"original_url"`
	Title       string            `json:"title"`
	SourceName  string            `json:"source_name"`
	PublishedAt *time.Time        `json:"published_at"`
	Status      string            `json:"processing_status"`
	Category    *string           `json:"category"`
	IsSaved     bool              `json:"is_saved"`
	CreatedAt   time.Time         `json:"created_at"`
	Analysis    *analysisResponse `json:"ai_analysis"`
}

type analysisResponse struct {
	SummaryShort    string                     `json:"summary_short"`
	SummaryDetailed string                     `json:"summary_detailed"`
	SentimentScore  float64                    `json:"sentiment_score"`
	SentimentLabel  string                     `json:"sentiment_label"`
	Tags            []string                   `json:"tags"`
	Category        string                     `json:"category"`
	Vocabulary      []database.VocabularyEntry `json:"vocabulary"`
	ModelUsed       string                     `json:"model_used"`
	CreatedAt       time.Time                  `json:"created_at"`
}

func newItemResponse(item database.ItemWithAnalysis) itemResponse {
	resp := itemResponse{
		ID:          item.ID,
		OriginalURL: item.OriginalURL,
		Title:       item.Title,
		SourceName:  item.SourceName,
		PublishedAt: item.PublishedAt,
		Status:      string(item.Status),
		Category:    item.Category,
		IsSaved:     item.IsSaved,
		CreatedAt:   item.CreatedAt,
	}

	if a := item.Analysis; a != nil {
		resp.Analysis = &analysisResponse{
			SummaryShort:    a.SummaryShort,
			SummaryDetailed: a.SummaryDetailed,
			SentimentScore:  a.SentimentScore,
			SentimentLabel:  a.SentimentLabel,
			Tags:            a.Tags,
			Category:        a.Category,
			Vocabulary:      a.Vocabulary,
			ModelUsed:       a.ModelUsed,
			CreatedAt:       a.CreatedAt,
		}
	}

	return resp
}
