// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HandlerAttempts counts orchestrator handler attempts by event and outcome.
	HandlerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_update_attempts_total",
		Help: "Recompute pipeline attempts by triggering event and outcome.",
	}, []string{"event", "outcome"})

	// PortfoliosRecomputed counts persisted recomputes.
	PortfoliosRecomputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_recomputed_total",
		Help: "Portfolios recomputed and persisted, by triggering event.",
	}, []string{"event"})

	// PortfolioRecomputeFailures counts per-portfolio failures that were skipped.
	PortfolioRecomputeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_recompute_failures_total",
		Help: "Portfolios whose recompute failed and was skipped.",
	}, []string{"event"})

	// HandlerDuration observes full handler latency including retries.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_update_duration_seconds",
		Help:    "Duration of recompute handlers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	// CacheRequests counts portfolio cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_cache_requests_total",
		Help: "Portfolio cache operations by result (hit, miss, error).",
	}, []string{"result"})

	// ExchangeRateUpdates counts accepted and rejected rate updates.
	ExchangeRateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_rate_updates_total",
		Help: "Exchange rate updates by outcome.",
	}, []string{"outcome"})

	// DailySnapshots counts daily snapshot rows by outcome (inserted, existing, failed).
	DailySnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_daily_snapshots_total",
		Help: "Daily snapshot rows by outcome.",
	}, []string{"outcome"})

	// EventsPublished counts bus publications by event name.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "In-process events published, by name.",
	}, []string{"event"})
)
