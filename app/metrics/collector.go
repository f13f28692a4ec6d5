package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	Namespace = "news_comb"
	PushJob   = "news_comb_run"
)

// Item stages counted by Items.
const (
	StageFound     = "found"
	StageDuplicate = "duplicate"
	StagePersisted = "persisted"
	StageEnriched  = "enriched"
	StageFailed    = "failed"
	StageSwept     = "swept"
)

// Collector holds the Prometheus metrics of the pipeline and the read API.
// Every collector owns its registry so tests and runs never collide.
type Collector struct {
	registry *prometheus.Registry

	Runs             *prometheus.CounterVec
	Sources          *prometheus.CounterVec
	Items            *prometheus.CounterVec
	EnrichmentCalls  *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		Sources: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sources_total",
				Help:      "Sources fetched by result",
			},
			[]string{"result"},
		),
		Items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Items seen by pipeline stage",
			},
			[]string{"stage"},
		),
		EnrichmentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_calls_total",
				Help:      "Enrichment calls by result",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Pipeline run duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last pipeline run finished",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.Runs,
		c.Sources,
		c.Items,
		c.EnrichmentCalls,
		c.RunDuration,
		c.LastRunTimestamp,
		c.HTTPRequests,
		c.HTTPDuration,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// AddItems adds n to the counter of stage. Zero values are still materialized
// so every stage shows up in the first scrape.
func (c *Collector) AddItems(stage string, n int) {
	c.Items.WithLabelValues(stage).Add(float64(n))
}

// ObserveRun records the end of a pipeline run.
func (c *Collector) ObserveRun(outcome string, started, finished time.Time) {
	c.Runs.WithLabelValues(outcome).Inc()
	c.RunDuration.Observe(finished.Sub(started).Seconds())
	c.LastRunTimestamp.Set(float64(finished.Unix()))
}

// Push sends the registry to a Pushgateway. A batch run exits before any
// scrape could happen, so this is how its numbers leave the process.
func (c *Collector) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
