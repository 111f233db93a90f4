// Package metrics holds the Prometheus collectors shared by the view engine.
//
// Collectors are registered on the default registry at init, so a process
// exposing /metrics through promhttp picks them up without further wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// View names used as the "view" label.
const (
	ViewVotes  = "votes"
	ViewNames  = "names"
	ViewIssues = "issues"
)

var (
	// EventsFolded counts log messages applied to an aggregate.
	EventsFolded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfold_events_folded_total",
		Help: "Log messages folded into an aggregate view",
	}, []string{"view"})

	// WarmUps counts completed historical replays by outcome.
	WarmUps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfold_warmups_total",
		Help: "Historical replays finished, by view and outcome",
	}, []string{"view", "outcome"})

	// PendingViews tracks aggregates that have started but not finished
	// their historical replay.
	PendingViews = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "viewfold_views_pending",
		Help: "Aggregates waiting for replay to complete",
	}, []string{"view"})

	// LiveErrors counts transport errors seen after warm-up.
	LiveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfold_live_errors_total",
		Help: "Transport errors after warm-up; the view keeps its last state",
	}, []string{"view"})

	// CacheLookups counts memo cache lookups by result (hit, miss, shared).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfold_cache_lookups_total",
		Help: "Memoization cache lookups by cache and result",
	}, []string{"cache", "result"})

	// CacheEvictions counts LRU evictions.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfold_cache_evictions_total",
		Help: "Memoization cache LRU evictions",
	}, []string{"cache"})

	// Subscriptions tracks open log subscriptions.
	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewfold_subscriptions_active",
		Help: "Log subscriptions currently running",
	})
)
