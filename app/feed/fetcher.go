package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxFeedSize = 10 << 20

// Fetcher retrieves one source and turns its entries into candidates.
type Fetcher struct {
	httpClient *http.Client
	parser     *Parser
	userAgent  string
}

func NewFetcher(httpClient *http.Client, parser *Parser, userAgent string) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
	}
}

// Run returns at most Settings.MaxItems candidates for the source, in feed
// order. Entries without a title or a usable link and entries rejected by the
// source filters are dropped and tallied by reason.
func (f *Fetcher) Run(ctx context.Context, feedConfig *Config) ([]Candidate, error) {
	data, err := f.fetchFeed(ctx, feedConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	metadata, parsed, err := f.parser.Run(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	rules := newSourceRules(feedConfig.Filters)
	limit := feedConfig.Settings.MaxItems
	dropped := make(map[dropReason]int)

	candidates := make([]Candidate, 0, min(len(parsed), max(limit, 0)))
	for _, candidate := range parsed {
		reason, detail := f.prepare(&candidate, feedConfig, rules)
		if reason == "" && limit > 0 && len(candidates) >= limit {
			reason = dropOverLimit
		}
		if reason != "" {
			dropped[reason]++
			if reason != dropOverLimit {
				slog.Debug("Dropping entry", "feed", feedConfig.Name, "link", candidate.Link, "reason", reason, "detail", detail)
			}
			continue
		}
		candidates = append(candidates, candidate)
	}

	slog.Debug("Feed fetched",
		"feed", feedConfig.Name,
		"title", metadata.Title,
		"entries", len(parsed),
		"dropped", dropped,
		"candidates", len(candidates))

	return candidates, nil
}

// prepare fills in the canonical URL and source name, or reports why the
// entry cannot become a candidate.
func (f *Fetcher) prepare(candidate *Candidate, feedConfig *Config, rules sourceRules) (dropReason, string) {
	if candidate.Title == "" {
		return dropUntitled, ""
	}
	if candidate.Link == "" {
		return dropBadLink, "missing link"
	}

	canonical, err := CanonicalURL(candidate.Link)
	if err != nil {
		return dropBadLink, err.Error()
	}

	if reason, detail := rules.check(*candidate); reason != "" {
		return reason, detail
	}

	candidate.CanonicalURL = canonical
	candidate.SourceName = feedConfig.DisplayName()
	return "", ""
}

func (f *Fetcher) fetchFeed(ctx context.Context, feedConfig *Config) ([]byte, error) {
	timeout := time.Duration(feedConfig.Settings.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout * time.Second
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, feedConfig.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
