package enrich

import (
	"context"
	"sync"
	"time"
)

type fakeService struct {
	mu sync.Mutex

	capabilities []string
	listErr      error
	listCalls    int

	output    string
	err       error
	prompts   []string
	starts    []time.Time
	ends      []time.Time
	callDelay time.Duration
}

func (f *fakeService) ListCapabilities(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.capabilities, f.listErr
}

func (f *fakeService) Generate(ctx context.Context, capability, prompt string) (string, error) {
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.prompts = append(f.prompts, prompt)
	delay := f.callDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, time.Now())
	return f.output, f.err
}

func (f *fakeService) generateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

const validOutput = `{
  "summary_short": "Chipmaker expands",
  "summary_detailed": ["New plant", "More jobs"],
  "sentiment_score": 0.6,
  "sentiment_label": "positive",
  "tags": ["chips", "jobs", "chips"],
  "category": "technology",
  "vocabulary": [{"word": "foundry", "def": "chip factory", "ex": "The foundry opened."}]
}`
