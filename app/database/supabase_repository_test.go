package database

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/postgrest-go"
)

func newSupabaseTestRepository(t *testing.T, handler http.HandlerFunc, opts ...SupabaseOption) *SupabaseItemRepository {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewSupabaseItemRepository(postgrest.NewClient(server.URL, "public", nil), opts...)
}

// requestLog records "METHOD /path?query" for every request the fake
// PostgREST server receives.
type requestLog struct {
	mu       sync.Mutex
	requests []string
}

func (l *requestLog) add(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, r.Method+" "+r.URL.Path)
}

func (l *requestLog) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.requests {
		if r == entry {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// newStalledSupabaseRepository answers nothing until the test ends. The release
// cleanup is registered after the server's, so it runs before server.Close.
func newStalledSupabaseRepository(t *testing.T, opts ...SupabaseOption) *SupabaseItemRepository {
	release := make(chan struct{})
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, `[]`)
	}, opts...)
	t.Cleanup(func() { close(release) })
	return repo
}

func TestSupabaseCallHonoursContextDeadline(t *testing.T) {
	repo := newStalledSupabaseRepository(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := repo.ExistsByURL(ctx, "https://example.com/a")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestSupabaseCallTimeout(t *testing.T) {
	repo := newStalledSupabaseRepository(t, WithCallTimeout(50*time.Millisecond))

	started := time.Now()
	_, err := repo.GetPendingItems(context.Background(), 5)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestSupabaseCancelledContextSendsNothing(t *testing.T) {
	var calls requestLog
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		calls.add(r)
		writeJSON(w, http.StatusOK, `[]`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.DeleteStale(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls.requests)
}

func TestSupabaseExistsByURL(t *testing.T) {
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/news_items", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("original_url") == "eq.https://example.com/a" {
			w.Write([]byte(`[{"id":"abc"}]`))
			return
		}
		w.Write([]byte(`[]`))
	})

	exists, err := repo.ExistsByURL(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByURL(context.Background(), "https://example.com/b")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSupabaseListItemsDecodesEmbeddedAnalysis(t *testing.T) {
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"1","original_url":"https://example.com/a","title":"A","source_name":"Wire",
			 "content_raw":"","published_at":null,"processing_status":"complete","category":"Science",
			 "is_saved":true,"created_at":"2026-01-02T03:04:05Z",
			 "ai_analysis":{"news_id":"1","summary_short":"s","summary_detailed":"d","sentiment_score":-0.5,
			  "sentiment_label":"Negative","tags":["x"],"category":"Science","vocabulary":[],
			  "model_used":"m","created_at":"2026-01-02T03:05:05Z"}},
			{"id":"2","original_url":"https://example.com/b","title":"B","source_name":"Wire",
			 "content_raw":"body","published_at":"2026-01-01T00:00:00Z","processing_status":"pending",
			 "category":null,"is_saved":false,"created_at":"2026-01-02T03:04:05Z","ai_analysis":null},
			{"id":"3","original_url":"https://example.com/c","title":"C","source_name":"Wire",
			 "content_raw":"","published_at":null,"processing_status":"complete","category":"Other",
			 "is_saved":false,"created_at":"2026-01-02T03:04:05Z",
			 "ai_analysis":[{"news_id":"3","summary_short":"c","sentiment_score":0,"sentiment_label":"Neutral",
			  "tags":[],"category":"Other","vocabulary":[{"word":"w","def":"d","ex":"e"}],"model_used":"m",
			  "created_at":"2026-01-02T03:05:05Z"}]}
		]`))
	})

	items, err := repo.ListItems(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.NotNil(t, items[0].Analysis)
	assert.Equal(t, "Negative", items[0].Analysis.SentimentLabel)
	assert.True(t, items[0].IsSaved)
	require.NotNil(t, items[0].Category)
	assert.Equal(t, "Science", *items[0].Category)

	assert.Nil(t, items[1].Analysis)
	assert.Equal(t, StatusPending, items[1].Status)
	assert.NotNil(t, items[1].PublishedAt)

	require.NotNil(t, items[2].Analysis)
	assert.Equal(t, "w", items[2].Analysis.Vocabulary[0].Word)
}

func TestSupabaseInsertItem(t *testing.T) {
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
	})

	id, created, err := repo.InsertItem(context.Background(), Item{OriginalURL: "https://example.com/a", Title: "A"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)
}

func TestSupabaseInsertItemConflictReturnsExistingID(t *testing.T) {
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			writeJSON(w, http.StatusConflict,
				`{"code":"23505","message":"duplicate key value violates unique constraint \"news_items_original_url_key\""}`)
		case http.MethodGet:
			assert.Equal(t, "eq.https://example.com/a", r.URL.Query().Get("original_url"))
			writeJSON(w, http.StatusOK, `[{"id":"existing"}]`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	id, created, err := repo.InsertItem(context.Background(), Item{OriginalURL: "https://example.com/a", Title: "A"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing", id)
}

func TestSupabaseInsertItemOtherErrors(t *testing.T) {
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"code":"42703","message":"column does not exist"}`)
	})

	_, _, err := repo.InsertItem(context.Background(), Item{OriginalURL: "https://example.com/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "42703")
}

func TestSupabaseCompleteItem(t *testing.T) {
	var calls requestLog
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		calls.add(r)
		switch r.Method + " " + r.URL.Path {
		case "POST /ai_analysis":
			assert.Equal(t, "news_id", r.URL.Query().Get("on_conflict"))
			assert.Contains(t, r.Header.Get("Prefer"), "merge-duplicates")
			w.WriteHeader(http.StatusCreated)
		case "PATCH /news_items":
			assert.Equal(t, "eq.item-1", r.URL.Query().Get("id"))
			assert.Equal(t, "eq.pending", r.URL.Query().Get("processing_status"))
			writeJSON(w, http.StatusOK, `[{"id":"item-1"}]`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	require.NoError(t, repo.CompleteItem(context.Background(), "item-1", Analysis{SummaryShort: "s", Category: "Science"}))
	assert.False(t, calls.has("DELETE /ai_analysis"))
}

func TestSupabaseCompleteItemNotPendingRemovesAnalysis(t *testing.T) {
	var calls requestLog
	var deleteFilter string
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		calls.add(r)
		switch r.Method + " " + r.URL.Path {
		case "POST /ai_analysis":
			w.WriteHeader(http.StatusCreated)
		case "PATCH /news_items":
			writeJSON(w, http.StatusOK, `[]`)
		case "GET /news_items":
			writeJSON(w, http.StatusOK, `[{"processing_status":"failed"}]`)
		case "DELETE /ai_analysis":
			deleteFilter = r.URL.Query().Get("news_id")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	err := repo.CompleteItem(context.Background(), "item-1", Analysis{SummaryShort: "s"})
	assert.ErrorIs(t, err, ErrNotPending)
	assert.True(t, calls.has("DELETE /ai_analysis"))
	assert.Equal(t, "eq.item-1", deleteFilter)
}

func TestSupabaseCompleteItemAlreadyCompleteKeepsAnalysis(t *testing.T) {
	var calls requestLog
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		calls.add(r)
		switch r.Method + " " + r.URL.Path {
		case "POST /ai_analysis":
			w.WriteHeader(http.StatusCreated)
		case "PATCH /news_items":
			writeJSON(w, http.StatusOK, `[]`)
		case "GET /news_items":
			writeJSON(w, http.StatusOK, `[{"processing_status":"complete"}]`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	err := repo.CompleteItem(context.Background(), "item-1", Analysis{SummaryShort: "s"})
	assert.ErrorIs(t, err, ErrNotPending)
	assert.False(t, calls.has("DELETE /ai_analysis"), "a complete item must keep its analysis")
}

func TestSupabaseDeleteStale(t *testing.T) {
	var calls requestLog
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		calls.add(r)
		query := r.URL.Query()
		switch r.Method + " " + r.URL.Path {
		case "GET /news_items":
			assert.Equal(t, "eq.false", query.Get("is_saved"))
			assert.True(t, strings.HasPrefix(query.Get("created_at"), "lt.2026-01-01T00:00:00"), query.Get("created_at"))
			writeJSON(w, http.StatusOK, `[{"id":"a"},{"id":"b"}]`)
		case "DELETE /ai_analysis":
			assert.Equal(t, "in.(a,b)", query.Get("news_id"))
			w.WriteHeader(http.StatusNoContent)
		case "DELETE /news_items":
			assert.Equal(t, "in.(a,b)", query.Get("id"))
			assert.Equal(t, "eq.false", query.Get("is_saved"))
			assert.Contains(t, r.Header.Get("Prefer"), "return=representation")
			// b was saved between the lookup and the delete.
			writeJSON(w, http.StatusOK, `[{"id":"a"}]`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	deleted, err := repo.DeleteStale(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.True(t, calls.has("DELETE /news_items"))
}

func TestSupabaseDeleteStaleNothingToDo(t *testing.T) {
	var calls requestLog
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		calls.add(r)
		writeJSON(w, http.StatusOK, `[]`)
	})

	deleted, err := repo.DeleteStale(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Equal(t, []string{"GET /news_items"}, calls.requests)
}

func TestSupabaseListItemsSearch(t *testing.T) {
	var orFilter, title string
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		orFilter = r.URL.Query().Get("or")
		title = r.URL.Query().Get("title")
		writeJSON(w, http.StatusOK, `[]`)
	})

	_, err := repo.ListItems(context.Background(), ListFilter{Query: "quantum"})
	require.NoError(t, err)
	assert.Empty(t, title)
	assert.Contains(t, orFilter, `title.ilike."*quantum*"`)
	assert.Contains(t, orFilter, `ai_analysis.summary_short.ilike."*quantum*"`)
	assert.Contains(t, orFilter, `ai_analysis.tags.cs.{quantum}`)

	_, err = repo.ListItems(context.Background(), ListFilter{Query: "node.js"})
	require.NoError(t, err)
	assert.Contains(t, orFilter, `title.ilike."*node.js*"`)
	assert.NotContains(t, orFilter, "tags")

	_, err = repo.ListItems(context.Background(), ListFilter{Query: " * "})
	require.NoError(t, err)
	assert.Empty(t, orFilter)
}

func TestSearchFilter(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"", ""},
		{"%*", ""},
		{"chips", `title.ilike."*chips*",ai_analysis.summary_short.ilike."*chips*",ai_analysis.tags.cs.{chips}`},
		{`say "hi"`, `title.ilike."*say \"hi\"*",ai_analysis.summary_short.ilike."*say \"hi\"*"`},
		{"a,b", `title.ilike."*a,b*",ai_analysis.summary_short.ilike."*a,b*"`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, searchFilter(tt.query), tt.query)
	}
}

func TestSupabaseMarkFailedNotPending(t *testing.T) {
	repo := newSupabaseTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})

	err := repo.MarkFailed(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(errors.New(`(23505) duplicate key value violates unique constraint "news_items_original_url_key"`)))
	assert.False(t, isDuplicateKey(errors.New("(42P01) relation does not exist")))
}
