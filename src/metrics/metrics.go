// Prometheus collectors of the watch cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mcwatch"

var (
	// StartWatch calls served from a valid or initialising entry.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Watches served from an existing cache entry.",
		},
	)

	// StartWatch calls which had to fetch a snapshot.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Watches which required a snapshot fetch.",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of entries in the watch cache.",
		},
	)

	OpenSockets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sockets",
			Help:      "Number of watch streams attached to cache entries.",
		},
	)

	AppliedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Watch events handed to the reconciler by event type.",
		},
		[]string{"type"},
	)

	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Watch frames dropped before reconciliation by reason.",
		},
		[]string{"reason"},
	)

	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Cache entries removed after their grace period.",
		},
	)

	FetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fetch_errors_total",
			Help:      "Failed initial snapshot fetches.",
		},
	)

	HubResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_resolutions_total",
			Help:      "Hub identity lookups by outcome.",
		},
		[]string{"outcome"},
	)
)
