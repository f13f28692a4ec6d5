package tasks

import (
	"context"

	"github.com/lysyi3m/news-comb/app/feed"
)

// SourceFetcher turns one source configuration into candidates.
// *feed.Fetcher satisfies it.
type SourceFetcher interface {
	Run(ctx context.Context, feedConfig *feed.Config) ([]feed.Candidate, error)
}

// TaskRunner executes a batch of tasks and reports each task's error at the
// task's index.
type TaskRunner interface {
	Run(ctx context.Context, tasks []TaskInterface) []error
}
