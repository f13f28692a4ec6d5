package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/enrich"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/tasks"
)

func newTestStore(t *testing.T) (*database.SQLiteItemRepository, *database.DB) {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	return database.NewItemRepository(db), db
}

// assertConsistent checks that an item is complete exactly when it has an analysis.
func assertConsistent(t *testing.T, db *database.DB) {
	t.Helper()

	var violations int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM news_items i
		LEFT JOIN ai_analysis a ON a.news_id = i.id
		WHERE (i.processing_status = 'complete') != (a.id IS NOT NULL)
	`).Scan(&violations)
	require.NoError(t, err)
	require.Zero(t, violations, "items whose status disagrees with their analysis")
}

func countByStatus(t *testing.T, db *database.DB, status database.ItemStatus) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM news_items WHERE processing_status = ?`, string(status)).Scan(&n))
	return n
}

type staticSources []*feed.Config

func (s staticSources) GetEnabledConfigs() []*feed.Config {
	return s
}

func sources(names ...string) staticSources {
	configs := make(staticSources, len(names))
	for i, name := range names {
		configs[i] = &feed.Config{Name: name, Settings: feed.ConfigSettings{Enabled: true}}
	}
	return configs
}

func candidate(source, slug string) feed.Candidate {
	return feed.Candidate{
		Title:        "Story " + slug,
		Link:         "https://" + source + ".example.com/" + slug + "?utm_source=rss",
		CanonicalURL: "https://" + source + ".example.com/" + slug,
		Content:      "<p>Body of " + slug + "</p>",
		SourceName:   source,
	}
}

type fakeFetcher struct {
	mu       sync.Mutex
	results  map[string][]feed.Candidate
	failures map[string]error
	calls    int
}

func (f *fakeFetcher) Run(ctx context.Context, feedConfig *feed.Config) ([]feed.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failures[feedConfig.Name]; err != nil {
		return nil, err
	}
	return f.results[feedConfig.Name], nil
}

type fakeResolver struct {
	capability string
	degraded   bool
	err        error
}

func (r *fakeResolver) Capability(ctx context.Context) (string, error) {
	return r.capability, r.err
}

func (r *fakeResolver) Degraded() bool {
	return r.degraded
}

// fakeAnalyzer answers with a fixed valid result unless respond overrides it.
type fakeAnalyzer struct {
	mu      sync.Mutex
	texts   []string
	respond func(text string) (*enrich.Result, error)
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, text, capability string) (*enrich.Result, error) {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	respond := a.respond
	a.mu.Unlock()

	if respond != nil {
		return respond(text)
	}
	return validResult(), nil
}

func (a *fakeAnalyzer) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.texts)
}

func validResult() *enrich.Result {
	return &enrich.Result{
		SummaryShort:    "Short",
		SummaryDetailed: "Detailed",
		SentimentScore:  0.3,
		SentimentLabel:  enrich.LabelPositive,
		Tags:            []string{"tag"},
		Category:        "Technology",
		Vocabulary:      []enrich.VocabularyEntry{{Word: "w", Definition: "d", Example: "e"}},
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) Send(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// failingCompleteStore fails every CompleteItem call.
type failingCompleteStore struct {
	Store
}

func (s failingCompleteStore) CompleteItem(ctx context.Context, itemID string, analysis database.Analysis) error {
	return errors.New("disk I/O error")
}

// onceFailingInsertStore fails the first InsertItem call only.
type onceFailingInsertStore struct {
	Store
	failed bool
}

func (s *onceFailingInsertStore) InsertItem(ctx context.Context, item database.Item) (string, bool, error) {
	if !s.failed {
		s.failed = true
		return "", false, errors.New("disk I/O error")
	}
	return s.Store.InsertItem(ctx, item)
}

type coordinatorFixture struct {
	store    Store
	fetcher  *fakeFetcher
	resolver CapabilityResolver
	analyzer *fakeAnalyzer
	notifier *recordingNotifier
	sources  staticSources
	settings Settings
}

func newFixture(store Store) *coordinatorFixture {
	return &coordinatorFixture{
		store:    store,
		fetcher:  &fakeFetcher{results: map[string][]feed.Candidate{}, failures: map[string]error{}},
		resolver: &fakeResolver{capability: "model-a"},
		analyzer: &fakeAnalyzer{},
		notifier: &recordingNotifier{},
		settings: Settings{RetentionDays: 30, RetryPendingLimit: DefaultRetryPendingLimit},
	}
}

func (f *coordinatorFixture) coordinator() *Coordinator {
	return NewCoordinator(Dependencies{
		Store:    f.store,
		Sources:  f.sources,
		Fetcher:  f.fetcher,
		Runner:   tasks.NewPool(2, 0),
		Resolver: f.resolver,
		Analyzer: f.analyzer,
		Notifier: f.notifier,
	}, f.settings)
}
