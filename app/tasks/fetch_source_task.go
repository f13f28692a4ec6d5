package tasks

import (
	"context"
	"fmt"

	"github.com/lysyi3m/news-comb/app/feed"
)

// FetchSourceTask fetches one source. Candidates is populated by Execute.
type FetchSourceTask struct {
	Task
	FeedConfig *feed.Config
	fetcher    SourceFetcher

	Candidates []feed.Candidate
}

func NewFetchSourceTask(feedConfig *feed.Config, fetcher SourceFetcher) *FetchSourceTask {
	return &FetchSourceTask{
		Task:       NewTask(TaskTypeFetchSource, feedConfig.Name),
		FeedConfig: feedConfig,
		fetcher:    fetcher,
	}
}

func (t *FetchSourceTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	candidates, err := t.fetcher.Run(ctx, t.FeedConfig)
	if err != nil {
		return fmt.Errorf("source %s: %w", t.FeedName, err)
	}

	t.Candidates = candidates
	return nil
}
