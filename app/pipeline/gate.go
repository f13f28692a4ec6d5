package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/lysyi3m/news-comb/app/feed"
)

// Gate drops candidates whose canonical URL is already stored or was already
// seen during this run. It only saves enrichment calls; the unique constraint
// on original_url is what keeps the store free of duplicates.
type Gate struct {
	store Store

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewGate(store Store) *Gate {
	return &Gate{
		store: store,
		seen:  make(map[string]struct{}),
	}
}

// Admit reserves the URL for this run when it is new. A store error releases
// the reservation so a later copy of the same link can still be admitted.
func (g *Gate) Admit(ctx context.Context, candidate feed.Candidate) (bool, error) {
	url := candidate.CanonicalURL
	if url == "" {
		return false, fmt.Errorf("candidate %q has no canonical URL", candidate.Title)
	}

	g.mu.Lock()
	_, seen := g.seen[url]
	g.seen[url] = struct{}{}
	g.mu.Unlock()

	if seen {
		return false, nil
	}

	exists, err := g.store.ExistsByURL(ctx, url)
	if err != nil {
		g.Release(url)
		return false, fmt.Errorf("failed to check %s: %w", url, err)
	}
	return !exists, nil
}

// Release forgets a reserved URL, used when the admitted candidate could not
// be stored.
func (g *Gate) Release(url string) {
	g.mu.Lock()
	delete(g.seen, url)
	g.mu.Unlock()
}
