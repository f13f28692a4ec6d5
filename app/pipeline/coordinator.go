package pipeline

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/enrich"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/metrics"
	"github.com/lysyi3m/news-comb/app/notify"
	"github.com/lysyi3m/news-comb/app/tasks"
)

type State string

const (
	StateResolving  State = "resolving"
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StateSweeping   State = "sweeping"
	StateReporting  State = "reporting"
)

const (
	DefaultRetryPendingLimit = 10
	notifyTimeout            = 15 * time.Second
)

// SourceProvider lists the sources to fetch. *feed.ConfigCache satisfies it.
type SourceProvider interface {
	GetEnabledConfigs() []*feed.Config
}

// CapabilityResolver picks the enrichment model for the run.
type CapabilityResolver interface {
	Capability(ctx context.Context) (string, error)
	Degraded() bool
}

// TextAnalyzer enriches item text. *enrich.Analyzer satisfies it.
type TextAnalyzer interface {
	Analyze(ctx context.Context, text, capability string) (*enrich.Result, error)
}

type Dependencies struct {
	Store    Store
	Sources  SourceProvider
	Fetcher  tasks.SourceFetcher
	Runner   tasks.TaskRunner
	Resolver CapabilityResolver
	Analyzer TextAnalyzer
	Notifier notify.Notifier
	Metrics  *metrics.Collector
	Now      func() time.Time
}

type Settings struct {
	RetentionDays     int
	RetryPendingLimit int
}

// Coordinator drives one run: resolve the model, fetch all sources, process
// candidates one by one, sweep old items and report.
type Coordinator struct {
	deps     Dependencies
	settings Settings

	gate    *Gate
	writer  *Writer
	sweeper *Sweeper
}

func NewCoordinator(deps Dependencies, settings Settings) *Coordinator {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if settings.RetryPendingLimit < 0 {
		settings.RetryPendingLimit = 0
	}

	return &Coordinator{
		deps:     deps,
		settings: settings,
		gate:     NewGate(deps.Store),
		writer:   NewWriter(deps.Store),
		sweeper:  NewSweeper(deps.Store),
	}
}

// Run executes the pipeline once. Per-source and per-item failures are
// counted in the summary, never returned. The error is non-nil only when the
// run was aborted for lack of an enrichment capability or was cancelled.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: c.deps.Now(),
	}
	logger := slog.With("run_id", summary.RunID)

	var runErr error

	c.enter(logger, StateResolving)
	capability, err := c.deps.Resolver.Capability(ctx)
	if err != nil {
		logger.Error("Enrichment capability unavailable, skipping processing", "error", err)
		summary.Aborted = true
		runErr = err
	} else {
		summary.Capability = capability
		summary.Degraded = c.deps.Resolver.Degraded()
	}

	if !summary.Aborted {
		c.enter(logger, StateFetching)
		candidates := c.fetch(ctx, logger, &summary)

		c.enter(logger, StateProcessing)
		if err := c.process(ctx, logger, capability, candidates, &summary); err != nil {
			summary.Cancelled = true
			runErr = err
		}
	}

	if !summary.Cancelled {
		c.enter(logger, StateSweeping)
		swept, err := c.sweeper.Sweep(ctx, c.settings.RetentionDays, c.deps.Now())
		if err != nil {
			logger.Warn("Retention sweep failed", "error", err)
		}
		summary.Swept = swept
	}

	c.enter(logger, StateReporting)
	summary.FinishedAt = c.deps.Now()
	c.report(ctx, logger, summary)

	return summary, runErr
}

func (c *Coordinator) enter(logger *slog.Logger, state State) {
	logger.Info("Pipeline state", "state", string(state))
}

// fetch returns the candidates of all enabled sources, concatenated in source
// name order.
func (c *Coordinator) fetch(ctx context.Context, logger *slog.Logger, summary *Summary) []feed.Candidate {
	configs := c.deps.Sources.GetEnabledConfigs()
	summary.SourcesScanned = len(configs)

	fetchTasks := make([]*tasks.FetchSourceTask, len(configs))
	runnable := make([]tasks.TaskInterface, len(configs))
	for i, feedConfig := range configs {
		fetchTasks[i] = tasks.NewFetchSourceTask(feedConfig, c.deps.Fetcher)
		runnable[i] = fetchTasks[i]
	}

	errs := c.deps.Runner.Run(ctx, runnable)

	var candidates []feed.Candidate
	for i, task := range fetchTasks {
		if errs[i] != nil {
			summary.SourcesFailed++
			logger.Warn("Source skipped", "feed", task.FeedName, "error", errors.Join(ErrSourceUnreachable, errs[i]))
			c.countSource("failed")
			continue
		}
		c.countSource("ok")
		candidates = append(candidates, task.Candidates...)
	}

	summary.CandidatesFound = len(candidates)
	c.countItems(metrics.StageFound, len(candidates))
	logger.Info("Sources fetched",
		"sources", summary.SourcesScanned,
		"failed", summary.SourcesFailed,
		"candidates", summary.CandidatesFound)

	return candidates
}

// process enriches the pending backlog, then the new candidates. The context
// is only checked between items.
func (c *Coordinator) process(ctx context.Context, logger *slog.Logger, capability string, candidates []feed.Candidate, summary *Summary) error {
	var backlog []database.Item
	if c.settings.RetryPendingLimit > 0 {
		var err error
		backlog, err = c.deps.Store.GetPendingItems(ctx, c.settings.RetryPendingLimit)
		if err != nil {
			logger.Warn("Failed to load pending backlog", "error", err)
		}
	}

	for _, item := range backlog {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.Retried++
		text := cmp.Or(item.ContentRaw, item.Title)
		c.enrichItem(ctx, logger.With("item_id", item.ID, "url", item.OriginalURL), item.ID, text, capability, summary)
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.processCandidate(ctx, logger.With("url", candidate.CanonicalURL, "source", candidate.SourceName), candidate, capability, summary)
	}

	return ctx.Err()
}

func (c *Coordinator) processCandidate(ctx context.Context, logger *slog.Logger, candidate feed.Candidate, capability string, summary *Summary) {
	admitted, err := c.gate.Admit(ctx, candidate)
	if err != nil {
		summary.Skipped++
		logger.Warn("Candidate skipped", "error", err)
		return
	}
	if !admitted {
		summary.Duplicates++
		c.countItems(metrics.StageDuplicate, 1)
		logger.Debug("Duplicate candidate")
		return
	}

	itemID, created, err := c.writer.CommitNew(ctx, candidate, c.deps.Now())
	if err != nil {
		c.gate.Release(candidate.CanonicalURL)
		summary.Skipped++
		logger.Warn("Candidate not persisted", "error", err)
		return
	}
	if !created {
		// Another run stored it between the gate check and the insert.
		summary.Duplicates++
		c.countItems(metrics.StageDuplicate, 1)
		logger.Debug("Candidate already stored", "item_id", itemID)
		return
	}

	summary.Persisted++
	c.countItems(metrics.StagePersisted, 1)

	c.enrichItem(ctx, logger.With("item_id", itemID), itemID, candidate.Text(), capability, summary)
}

func (c *Coordinator) enrichItem(ctx context.Context, logger *slog.Logger, itemID, text, capability string, summary *Summary) {
	result, err := c.deps.Analyzer.Analyze(ctx, text, capability)
	switch {
	case err == nil:
	case errors.Is(err, enrich.ErrServiceUnavailable), errors.Is(err, context.Canceled):
		summary.LeftPending++
		c.countCall("unavailable")
		logger.Warn("Enrichment deferred, item left pending", "error", err)
		return
	default:
		c.countCall("failed")
		if errors.Is(err, enrich.ErrEnrichmentMalformed) {
			logger.Warn("Enrichment output rejected", "error", err)
		} else {
			logger.Warn("Enrichment call failed", "error", err)
		}
		if err := c.writer.MarkFailed(ctx, itemID); err != nil {
			summary.LeftPending++
			logger.Warn("Failed to mark item failed", "error", err)
			return
		}
		summary.Failed++
		c.countItems(metrics.StageFailed, 1)
		return
	}

	c.countCall("ok")
	if err := c.writer.CommitAnalysis(ctx, itemID, result, capability); err != nil {
		summary.LeftPending++
		logger.Warn("Analysis not persisted, item left pending", "error", err)
		return
	}

	summary.Enriched++
	c.countItems(metrics.StageEnriched, 1)
	logger.Info("Item enriched", "category", result.Category, "sentiment", result.SentimentLabel)
}

func (c *Coordinator) report(ctx context.Context, logger *slog.Logger, summary Summary) {
	logger.Info("Run finished",
		"outcome", summary.Outcome(),
		"capability", summary.Capability,
		"sources", summary.SourcesScanned,
		"sources_failed", summary.SourcesFailed,
		"candidates", summary.CandidatesFound,
		"duplicates", summary.Duplicates,
		"persisted", summary.Persisted,
		"enriched", summary.Enriched,
		"failed", summary.Failed,
		"pending", summary.LeftPending,
		"swept", summary.Swept,
		"duration", summary.Duration().String())

	if m := c.deps.Metrics; m != nil {
		m.AddItems(metrics.StageSwept, int(summary.Swept))
		m.ObserveRun(summary.Outcome(), summary.StartedAt, summary.FinishedAt)
	}

	if summary.Persisted == 0 {
		return
	}

	// The report still goes out when the run itself was interrupted.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := c.deps.Notifier.Send(notifyCtx, summary.String()); err != nil {
		logger.Debug("Notification not delivered", "error", err)
	}
}

func (c *Coordinator) countItems(stage string, n int) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.AddItems(stage, n)
	}
}

func (c *Coordinator) countSource(result string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.Sources.WithLabelValues(result).Inc()
	}
}

func (c *Coordinator) countCall(result string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.EnrichmentCalls.WithLabelValues(result).Inc()
	}
}
