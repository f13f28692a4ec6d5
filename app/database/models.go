package database

import (
	"time"
)

type ItemStatus string

const (
	StatusPending  ItemStatus = "pending"
	StatusComplete ItemStatus = "complete"
	StatusFailed   ItemStatus = "failed"
)

type Item struct {
	ID          string // UUID assigned by the repository
	OriginalURL string // canonical URL, unique
	Title       string
	SourceName  string
	ContentRaw  string
	PublishedAt *time.Time
	Status      ItemStatus
	Category    *string // nil until enrichment completes
	IsSaved     bool
	CreatedAt   time.Time
}

type VocabularyEntry struct {
	Word       string `json:"word"`
	Definition string `json:"def"`
	Example    string `json:"ex"`
}

type Analysis struct {
	ItemID          string
	SummaryShort    string
	SummaryDetailed string
	SentimentScore  float64
	SentimentLabel  string
	Tags            []string
	Category        string
	Vocabulary      []VocabularyEntry
	ModelUsed       string
	CreatedAt       time.Time
}

type ItemWithAnalysis struct {
	Item
	Analysis *Analysis
}

type ListFilter struct {
	Category string
	Query    string
	Saved    *bool
	Status   ItemStatus
	Limit    int
	Offset   int
}

type ItemStats struct {
	Total    int
	Pending  int
	Complete int
	Failed   int
	Saved    int
}
